// Package headless renders pages that only assemble their catalog markup
// in the browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// ErrMethodNotSupported is wrapped in the TransportError returned for
// anything but GET.
var ErrMethodNotSupported = errors.New("headless executor only supports GET")

const defaultNavTimeout = 45 * time.Second

// Config controls the headless executor.
type Config struct {
	// MaxParallel caps concurrent browser tabs; zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured. Defaults to body.
	WaitSelector string
	Limiter      crawler.RateLimiter
	Logger       *zap.Logger
}

// Executor implements crawler.Fetcher with headless Chrome.
type Executor struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New starts a Chrome allocator. Browsers are spawned lazily per fetch.
func New(cfg Config) (*Executor, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Executor{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the allocator down.
func (e *Executor) Close() {
	e.allocCancel()
}

// Fetch navigates to target and returns the rendered DOM as the body.
func (e *Executor) Fetch(ctx context.Context, target string, opts crawler.FetchOptions) (crawler.Payload, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, http.MethodGet) {
		return crawler.Payload{}, &crawler.TransportError{URL: target, Err: ErrMethodNotSupported}
	}
	if e.cfg.Limiter != nil {
		if err := e.cfg.Limiter.Wait(ctx, target); err != nil {
			return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
		}
	}
	if err := e.acquire(ctx); err != nil {
		return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
	}
	defer e.release()

	tabCtx, tabCancel := chromedp.NewContext(e.allocator)
	defer tabCancel()
	// Tie the tab to both the caller and the navigation budget.
	tabCtx, cancel := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &documentMeta{}
	chromedp.ListenTarget(tabCtx, meta.onEvent)

	start := time.Now()
	html, finalURL, err := e.render(tabCtx, target, opts.Headers)
	if err != nil {
		metrics.ObserveFetch(target, string(crawler.KindTransport), 0, time.Since(start))
		return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
	}

	status, headers, pageURL := meta.resolve(target, finalURL)
	payload := crawler.Payload{
		URL:        pageURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}
	if !opts.Quiet {
		e.logger.Debug("rendered",
			zap.String("url", target),
			zap.Int("status", status),
			zap.Duration("duration", payload.Duration),
		)
	}
	if !payload.OK() {
		metrics.ObserveFetch(target, string(crawler.KindHTTPStatus), len(payload.Body), payload.Duration)
		if opts.RaiseOnStatus {
			return payload, &crawler.HTTPStatusError{URL: target, StatusCode: status}
		}
		return payload, nil
	}
	metrics.ObserveFetch(target, "ok", len(payload.Body), payload.Duration)
	return payload, nil
}

func (e *Executor) render(ctx context.Context, target string, headers http.Header) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	err := chromedp.Run(ctx,
		e.setup(headers),
		chromedp.Navigate(target),
		chromedp.WaitReady(e.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (e *Executor) setup(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (e *Executor) acquire(ctx context.Context) error {
	if e.slots == nil {
		return nil
	}
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (e *Executor) release() {
	if e.slots == nil {
		return
	}
	<-e.slots
}

// documentMeta records the main document response seen by the tab.
type documentMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *documentMeta) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Redirect chains report several documents; the first one is the page.
	if m.status != 0 {
		return
	}
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
}

// resolve fills gaps left when no document event was observed.
func (m *documentMeta) resolve(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, url := m.status, m.url
	headers := m.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if finalURL != "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
