// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the live statistics snapshot.
//   - GET /v1/pauses for outstanding operator requests.
//   - POST /v1/identities/{name}/resume to acknowledge a paused worker.
//   - POST /v1/gates/{name}/open to release a startup barrier.
//   - GET /v1/runs/current and /v1/runs/{run_id} for the persisted run
//     ledger, when a RunRepository is configured.
package api
