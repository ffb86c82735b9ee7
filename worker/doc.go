// Package worker provides the job execution engine: an Executor that
// runs a job through middleware and its handler and records the outcome,
// a Pool per queue that claims jobs with a fixed number of goroutines,
// and a Group that starts, stops and reaps across all pools.
package worker
