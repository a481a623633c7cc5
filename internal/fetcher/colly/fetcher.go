// Package collyfetcher implements the HTML fetch executor using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps response bodies in bytes. Zero keeps colly's
	// default and a negative value removes the cap.
	MaxBodySize int
	// Limiter is consulted before every request when set.
	Limiter crawler.RateLimiter
	Logger  *zap.Logger
}

// Executor implements crawler.Fetcher using the Colly collector.
type Executor struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Executor.
func New(cfg Config) *Executor {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single GET or POST. Network failures and deadlines come
// back as *crawler.TransportError; a non-2xx status is an
// *crawler.HTTPStatusError only when opts.RaiseOnStatus is set.
func (e *Executor) Fetch(ctx context.Context, target string, opts crawler.FetchOptions) (crawler.Payload, error) {
	if e.cfg.Limiter != nil {
		if err := e.cfg.Limiter.Wait(ctx, target); err != nil {
			return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
		}
	}
	var (
		result   crawler.Payload
		fetchErr error
	)
	start := time.Now()
	collector := e.buildCollector(opts, start, &result, &fetchErr)

	if err := e.runCollector(ctx, collector, target, opts, &fetchErr); err != nil {
		metrics.ObserveFetch(target, string(crawler.KindTransport), 0, time.Since(start))
		e.logger.Warn("fetch failed", zap.String("url", target), zap.Error(err))
		return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
	}
	if !opts.Quiet {
		e.logger.Debug("fetched",
			zap.String("url", target),
			zap.String("method", method(opts)),
			zap.Int("status", result.StatusCode),
			zap.Duration("duration", result.Duration),
		)
	}
	if !result.OK() {
		metrics.ObserveFetch(target, string(crawler.KindHTTPStatus), len(result.Body), result.Duration)
		if opts.RaiseOnStatus {
			return result, &crawler.HTTPStatusError{URL: target, StatusCode: result.StatusCode}
		}
		return result, nil
	}
	metrics.ObserveFetch(target, "ok", len(result.Body), result.Duration)
	return result, nil
}

func (e *Executor) buildCollector(
	opts crawler.FetchOptions,
	start time.Time,
	result *crawler.Payload,
	fetchErr *error,
) *colly.Collector {
	collector := e.baseCollector.Clone()
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !e.cfg.RespectRobots
	// Listing pages are fetched once per stage; status handling is ours.
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	switch {
	case e.cfg.MaxBodySize > 0:
		collector.MaxBodySize = e.cfg.MaxBodySize
	case e.cfg.MaxBodySize < 0:
		collector.MaxBodySize = 0
	}

	baseTransport := e.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if e.cfg.RespectRobots {
		collector.WithTransport(newRobotsTransport(baseTransport))
	} else {
		collector.WithTransport(baseTransport)
	}

	e.configureCollectorHooks(collector, opts, start, result, fetchErr)
	return collector
}

func (e *Executor) configureCollectorHooks(
	hooks collectorHooks,
	opts crawler.FetchOptions,
	start time.Time,
	result *crawler.Payload,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(opts, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.Payload{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (e *Executor) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	target string,
	opts crawler.FetchOptions,
	fetchErr *error,
) error {
	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method(opts), target, body, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(opts crawler.FetchOptions, r *colly.Request) {
	for key, values := range opts.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func method(opts crawler.FetchOptions) string {
	if opts.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(opts.Method)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
