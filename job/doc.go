// Package job defines the job record, its stored entity, the state machine
// and the store contract shared by every backend.
//
// # Lifecycle
//
//	submitted → waiting → active → completed
//	                         active → waiting (retry after backoff)
//	                         active → failed  (attempts exhausted or terminal error)
//	failed → waiting (dead-letter replay)
//
// A waiting job whose RunAt lies in the future is "delayed": it is
// invisible to workers until it becomes due and holds no worker slot.
//
// # Ordering
//
// Within one queue, lower [Job.Priority] values are dequeued first; ties
// are broken by RunAt, then by creation order.
package job
