// Package dependency tracks parent/child job relationships for fan-in.
//
// A handler that spawns children registers each edge with
// [Tracker.AddDependency] before the child is enqueued, so a child can
// never finish before its parent knows about it. When a child reaches a
// terminal state the worker calls [Tracker.OnChildCompleted] or
// [Tracker.OnChildFailed]; the call that removes the last outstanding
// child emits WorkflowCompleted for the parent, exactly once.
//
// Fan-in reports timing only. The parent job's own state is settled when
// its handler returns and does not depend on how its children end.
package dependency
