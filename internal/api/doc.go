// Package api hosts the HTTP server, middleware, and REST handlers for
// triggering and inspecting extraction runs. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /extraction/map to run an extraction synchronously.
//   - GET /extraction/jobs/{job_id} and .../artifacts for run inspection.
package api
