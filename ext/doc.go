// Package ext defines the extension system for Conductor.
//
// Extensions are notified of lifecycle events and can react to them:
// publishing them on the event bus, recording metrics, relaying them to
// Redis Pub/Sub. Each lifecycle hook is a separate interface so extensions
// opt in only to the events they care about.
//
//	type auditTrail struct{}
//
//	func (auditTrail) Name() string { return "audit-trail" }
//
//	func (auditTrail) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    log.Printf("job %s failed after %d attempts: %v", j.ID, j.Attempts, err)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobEnqueued]: a job was durably stored in its queue
//   - [JobStarted]: a worker claimed the job
//   - [JobCompleted]: the handler returned successfully
//   - [JobRetrying]: the attempt failed and the job was rescheduled
//   - [JobFailed]: the job failed with no attempts remaining
//   - [JobDLQ]: the failed job was copied to the dead-letter queue
//   - [ChildSpawned]: a handler registered and submitted a child job
//   - [WorkflowCompleted]: the last outstanding child of a parent finished
//   - [ScheduleFired]: a scheduled submission ran
//   - [Shutdown]: the conductor is draining
//
// [Registry] fans each event out to the registered extensions in
// registration order. Hook errors are logged and never reach the caller.
package ext
