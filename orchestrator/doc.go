// Package orchestrator maps job types to handlers and runs them inside
// worker pools.
//
// A Registry is a worker.Runner. Each invocation receives the decoded
// payload, the inference service, and the model class preferred by the
// job's queue. Orchestrating handlers spawn children through
// Invocation.Spawn, which registers every dependency before any child
// becomes visible to a worker, so a fast child can never drain its
// parent's set early.
//
// Built-in handlers:
//
//	case-analysis      reasoning step, then legal-research + compliance-check
//	                   (+ entity-lookup when the payload sets entityInvolved)
//	strategy-planning  document-generation + deadline-calculation
//	document-embedding embedding vector
//	anything else      single generic inference step
package orchestrator
