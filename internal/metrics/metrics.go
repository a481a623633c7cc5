// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal            *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	fetchDurationSeconds          *prometheus.HistogramVec
	itemsFailedTotal              *prometheus.CounterVec
	recordsPersistedTotal         *prometheus.CounterVec
	flushesTotal                  *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	activeRuns                    prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_requests_total",
				Help: "Total fetches, labeled by site host and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site host.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by site host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		itemsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_failed_total",
				Help: "Work items skipped by the batch runner, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		recordsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_persisted_total",
				Help: "Records handed to the persistence collaborator, labeled by target.",
			},
			[]string{"target"},
		)

		flushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_flushes_total",
				Help: "Accumulator flushes, labeled by target and result.",
			},
			[]string{"target", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_runs",
				Help: "Number of site runs currently executing.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch outcome ("ok", or a failure kind).
func ObserveFetch(target, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(target)
	fetchRequestsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	}
}

// ObserveItemFailure counts a skipped work item.
func ObserveItemFailure(kind string) {
	Init()
	itemsFailedTotal.WithLabelValues(kind).Inc()
}

// ObserveFlush counts one accumulator flush and the records it carried.
func ObserveFlush(target string, records int, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	flushesTotal.WithLabelValues(target, result).Inc()
	if err == nil && records > 0 {
		recordsPersistedTotal.WithLabelValues(target).Add(float64(records))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
