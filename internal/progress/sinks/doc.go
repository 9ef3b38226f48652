// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors and the in-memory run snapshot served by the status
// API. Each sink satisfies the progress.Sink interface and is safe for
// repeated Consume/Close cycles.
package sinks
