package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	robotsAttempts = 4
	allowAllRobots = "User-agent: *\nAllow: /"
)

// robotsTransport gives robots.txt probes a few retries on handshake
// timeouts. When the storefront never answers, the probe resolves to an
// allow-all policy so catalog pages behind it can still be fetched.
// Every other request passes straight through.
type robotsTransport struct {
	base     http.RoundTripper
	backoff  *crawler.ExponentialRetryPolicy
	attempts int
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{
		base: base,
		backoff: crawler.NewExponentialRetryPolicyFrom(crawler.RetryConfig{
			BaseDelay: 250 * time.Millisecond,
			MaxDelay:  time.Second,
		}),
		attempts: robotsAttempts,
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: request without url")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("catalog roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	for attempt := 0; attempt < t.attempts; attempt++ {
		if attempt > 0 {
			if err := t.backoff.Sleep(req.Context(), attempt-1); err != nil {
				return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
			}
		}
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !handshakeTimeout(err) {
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
		}
	}
	metrics.ObserveFetch(req.URL.String(), "robots_fallback", 0, 0)
	return allowAll(req), nil
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        make(http.Header),
		Request:       req,
	}
}

// handshakeTimeout matches deadlines, net timeouts and TLS handshake stalls.
func handshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
