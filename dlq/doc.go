// Package dlq keeps jobs that failed terminally, either by exhausting
// their attempts or by returning a conductor.Terminal error.
//
// The worker calls [Service.Push] after marking a job failed. The entry
// preserves the encoded payload, the final error and the attempt counts
// so the failure can be inspected after the retention janitor has purged
// the job itself.
//
//	svc := dlq.NewService(store, store)
//	entries, _ := svc.List(ctx, dlq.ListOpts{Queue: "research"})
//	j, _ := svc.Replay(ctx, entries[0].ID)
//
// Replay puts the original job back in its queue with a fresh attempt
// budget when it still exists, and resubmits it under its old ID
// otherwise.
package dlq
