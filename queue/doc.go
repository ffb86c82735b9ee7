// Package queue defines named queues, the static type-to-queue routing
// table and the per-queue admission gate.
//
// Every queue is configured once at startup with its own concurrency,
// priority tier, retry policy and optional rate limit:
//
//	queue.Config{
//	    Name:        "research",
//	    Concurrency: 5,
//	    Retry:       queue.RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second},
//	    Types:       []job.Type{job.TypeLegalResearch, job.TypeEntityLookup},
//	}
//
// [Router] maps a job type to the queue that lists it and falls back to
// the default queue for anything else. [Manager] applies each queue's
// token-bucket rate limit (golang.org/x/time/rate) and counts active jobs.
// Queues never share a concurrency budget.
package queue
