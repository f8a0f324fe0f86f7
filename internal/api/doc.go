// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/topics for topic setup, lifecycle changes, schedules and manual
//     triggers.
//   - GET /v1/topics/{id}/runs and /v1/runs/{id} for run history.
//   - GET /v1/events for the server-sent event stream of progress messages.
package api
