// Package progress provides the event primitives, batching hub and emitter
// interfaces that the harvest pipeline uses to report run, bucket and job
// progress. It batches events on a background goroutine and fans them out to
// pluggable sinks such as logs, Prometheus metrics or the in-memory snapshot
// served by the status API.
package progress
