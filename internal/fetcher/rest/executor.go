// Package rest implements the JSON API executor on top of go-resty.
package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config controls the REST executor.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// CloudflareBypass wraps the transport with browser-like TLS and headers.
	CloudflareBypass bool
	Limiter          crawler.RateLimiter
	Logger           *zap.Logger
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

// Executor implements crawler.Fetcher for JSON endpoints.
type Executor struct {
	client  *resty.Client
	limiter crawler.RateLimiter
	logger  *zap.Logger
}

// New builds an Executor around a fresh resty client.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetLogger(logger.Sugar())
	client.SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}
	if cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	return &Executor{client: client, limiter: cfg.Limiter, logger: logger}
}

// Fetch executes one request. See crawler.FetchOptions for status handling.
func (e *Executor) Fetch(ctx context.Context, target string, opts crawler.FetchOptions) (crawler.Payload, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, target); err != nil {
			return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
		}
	}

	method := http.MethodGet
	if opts.Method != "" {
		method = strings.ToUpper(opts.Method)
	}
	req := e.client.R().SetContext(ctx)
	for key, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if len(opts.Body) > 0 {
		req.SetBody(opts.Body)
		if req.Header.Get("Content-Type") == "" {
			req.SetHeader("Content-Type", "application/json")
		}
	}

	start := time.Now()
	resp, err := req.Execute(method, target)
	if err != nil {
		metrics.ObserveFetch(target, string(crawler.KindTransport), 0, time.Since(start))
		e.logger.Warn("fetch failed", zap.String("url", target), zap.Error(err))
		return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
	}

	payload := crawler.Payload{
		URL:        target,
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header().Clone(),
		Body:       resp.Body(),
		Duration:   resp.Time(),
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		payload.URL = resp.RawResponse.Request.URL.String()
	}
	if !opts.Quiet {
		e.logger.Debug("fetched",
			zap.String("url", target),
			zap.String("method", method),
			zap.Int("status", payload.StatusCode),
			zap.Duration("duration", payload.Duration),
		)
	}
	if !payload.OK() {
		metrics.ObserveFetch(target, string(crawler.KindHTTPStatus), len(payload.Body), payload.Duration)
		if opts.RaiseOnStatus {
			return payload, &crawler.HTTPStatusError{URL: target, StatusCode: payload.StatusCode}
		}
		return payload, nil
	}
	metrics.ObserveFetch(target, "ok", len(payload.Body), payload.Duration)
	return payload, nil
}
