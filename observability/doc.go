// Package observability exports conductor lifecycle metrics to
// Prometheus. The MetricsExtension implements lifecycle hooks to record
// enqueue, start, completion, failure, retry, DLQ, fan-out, fan-in and
// schedule events, plus an active-jobs gauge per queue.
//
// For per-execution tracing and OpenTelemetry metrics, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
