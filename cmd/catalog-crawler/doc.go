// Package main hosts the catalog-crawler entrypoint.
//
// Commands:
//   - run <site>: crawls one packaging catalog (Upack, Bestpack or Pulser) to completion and prints the run
//     summary as JSON. The exit code is non-zero when the run fails.
//   - serve: starts the ops/API server. POST /v1/runs/{site} queues a run that a fixed worker pool executes;
//     GET /v1/runs/{run_id} reports its status and counters. /healthz, /readyz and /metrics are always served.
//   - sites: lists the known sites.
//
// Configuration comes from an optional YAML file (--config), .env files (--env-file, default .env) and
// CATALOG_* environment variables, e.g. CATALOG_DATABASE_DSN, CATALOG_STORAGE_BACKEND=gcs,
// CATALOG_CRAWLER_CONCURRENCY and CATALOG_CRAWLER_INSERT_BATCH_SIZE.
//
// Shutdown: SIGINT/SIGTERM cancel the root context. A one-shot run stops fetching, keeps what was already
// flushed and records the run as failed; serve drains the HTTP server and stops the workers.
package main
