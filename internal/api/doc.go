// Package api hosts the optional HTTP status server of a harvest process.
// Routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{run_id} for run snapshots folded
//     from progress events.
package api
