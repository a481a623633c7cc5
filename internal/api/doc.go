// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sites lists the runnable sites.
//   - POST /v1/runs/{site} queues a site run.
//   - GET /v1/runs/{run_id} reports run status and counters.
package api
