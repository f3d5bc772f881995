// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and a run ledger repository.
package sinks
