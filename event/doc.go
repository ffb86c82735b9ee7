// Package event is Conductor's typed message bus.
//
// Lifecycle events are a closed set of variants implementing [Event]:
// [JobEnqueued], [JobStarted], [JobCompleted], [JobRetrying], [JobFailed]
// and [WorkflowCompleted]. Consumers switch over the concrete type:
//
//	sub := bus.Subscribe(event.KindJobCompleted, event.KindWorkflowCompleted)
//	defer bus.Unsubscribe(sub)
//	for evt := range sub.C() {
//	    switch e := evt.(type) {
//	    case event.JobCompleted:
//	        fmt.Println(e.JobID, e.Result)
//	    case event.WorkflowCompleted:
//	        fmt.Println("fan-in done for", e.ParentJobID)
//	    }
//	}
//
// The [Bus] is an extension: the engine registers it with the ext registry
// and every lifecycle hook becomes a published event. Delivery to
// subscribers never blocks; a full buffer drops the event and increments
// the drop counter.
//
// [Bus.Watch] is a per-job future that resolves with the job's terminal
// event and backs engine.Await.
package event
