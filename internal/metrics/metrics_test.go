package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchRequestsTotal == nil || fetchBytesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil || flushesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetchAndFlush(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues("metrics-test.kz", "ok"))
	ObserveFetch("https://metrics-test.kz/c/cups", "ok", 512, 0)
	if got := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues("metrics-test.kz", "ok")); got != before+1 {
		t.Errorf("expected fetch counter to increase by 1, got %f -> %f", before, got)
	}

	persisted := testutil.ToFloat64(recordsPersistedTotal.WithLabelValues("metrics_test_table"))
	ObserveFlush("metrics_test_table", 3, nil)
	if got := testutil.ToFloat64(recordsPersistedTotal.WithLabelValues("metrics_test_table")); got != persisted+3 {
		t.Errorf("expected persisted counter to increase by 3, got %f -> %f", persisted, got)
	}
	if got := testutil.ToFloat64(flushesTotal.WithLabelValues("metrics_test_table", "ok")); got < 1 {
		t.Errorf("expected at least one ok flush, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
