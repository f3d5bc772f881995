// Package progress carries harvest lifecycle events from workers to
// pluggable sinks. Workers emit without blocking; a background goroutine
// batches events and fans each batch out to every sink.
package progress
