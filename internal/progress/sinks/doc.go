// Package sinks implements milestone consumers for the progress Hub:
// Prometheus collectors and structured logging. Each sink satisfies
// progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
