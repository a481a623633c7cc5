package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsRunRoutes(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/runs/{site}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	accepted := httpRequestsTotal.WithLabelValues(http.MethodPost, "202")
	missing := httpRequestsTotal.WithLabelValues(http.MethodGet, "404")
	acceptedBefore := testutil.ToFloat64(accepted)
	missingBefore := testutil.ToFloat64(missing)

	for _, target := range []string{"/v1/runs/upack", "/v1/runs/pulser"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, target, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/runs/run-1", nil))

	require.InDelta(t, 2, testutil.ToFloat64(accepted)-acceptedBefore, 1e-9)
	require.InDelta(t, 1, testutil.ToFloat64(missing)-missingBefore, 1e-9)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestRouteOfFallsBackForUnroutedRequests(t *testing.T) {
	require.Equal(t, unmatchedRoute, routeOf(httptest.NewRequest(http.MethodGet, "/nowhere", nil)))

	r := chi.NewRouter()
	var route string
	r.Get("/v1/sites", func(_ http.ResponseWriter, req *http.Request) {
		route = routeOf(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sites", nil))
	require.Equal(t, "/v1/sites", route)
}
