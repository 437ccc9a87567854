// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and store readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /runs and /runs/{run_id} for crawl session history.
package api
