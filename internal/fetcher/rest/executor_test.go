package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestFetchDecodesJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/catalog/", r.URL.Path)
		require.Equal(t, "catalog-bot", r.Header.Get("User-Agent"))
		require.Equal(t, "ru", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"name":"Стаканы","children":[]}]`)
	}))
	defer srv.Close()

	exec := New(Config{UserAgent: "catalog-bot", Timeout: time.Second})
	payload, err := exec.Fetch(context.Background(), srv.URL+"/api/v1/catalog/", crawler.FetchOptions{
		Headers: http.Header{"Accept-Language": {"ru"}},
	})
	require.NoError(t, err)
	require.True(t, payload.OK())

	var nodes []struct {
		Name string `json:"name"`
	}
	require.NoError(t, payload.DecodeJSON(&nodes))
	require.Len(t, nodes, 1)
	require.Equal(t, "Стаканы", nodes[0].Name)
}

func TestFetchPostBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	exec := New(Config{})
	payload, err := exec.Fetch(context.Background(), srv.URL, crawler.FetchOptions{
		Method: "post",
		Body:   []byte(`{"q":"cups"}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"q":"cups"}`, string(payload.Body))
}

func TestFetchStatusHandling(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := New(Config{})
	payload, err := exec.Fetch(context.Background(), srv.URL, crawler.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, payload.StatusCode)

	_, err = exec.Fetch(context.Background(), srv.URL, crawler.FetchOptions{RaiseOnStatus: true})
	require.Equal(t, crawler.KindHTTPStatus, crawler.Classify(err))
}

func TestFetchMalformedJSONIsDecodeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"broken":`)
	}))
	defer srv.Close()

	payload, err := New(Config{}).Fetch(context.Background(), srv.URL, crawler.FetchOptions{})
	require.NoError(t, err)

	var out map[string]any
	err = payload.DecodeJSON(&out)
	require.Equal(t, crawler.KindDecode, crawler.Classify(err))
}

func TestFetchTimeoutIsTransport(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	exec := New(Config{Timeout: 50 * time.Millisecond})
	_, err := exec.Fetch(context.Background(), srv.URL, crawler.FetchOptions{})
	require.Equal(t, crawler.KindTransport, crawler.Classify(err))
}

func TestCloudflareBypassWrapsTransport(t *testing.T) {
	t.Parallel()

	plain := New(Config{})
	wrapped := New(Config{CloudflareBypass: true})
	require.NotSame(t, plain.client.GetClient().Transport, wrapped.client.GetClient().Transport)
	require.NotNil(t, wrapped.client.GetClient().Transport)
}
