// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied before each job executes.
// The first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job type, queue, duration and outcome
//   - [Recover] turns panics into retryable errors
//   - [Timeout] cancels the job context after the queue's job timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-job duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
