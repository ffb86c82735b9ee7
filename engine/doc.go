// Package engine wires every conductor subsystem together and provides
// the application-level API: Submit, Await, Lookup and Status.
//
// The engine package exists to break an import cycle: the root conductor
// package defines Entity and the error taxonomy, which job, queue and the
// stores import, so it cannot import them back. Engine sits above every
// subsystem and below the application layer.
//
// # Building an Engine
//
//	c, err := conductor.New(
//	    conductor.WithStore(redisStore),
//	    conductor.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithQueues(queue.DefaultConfigs()...),
//	    engine.WithInference(inference.NewOllama(ollamaURL)),
//	    engine.WithPrometheusRegisterer(prometheus.DefaultRegisterer),
//	    engine.WithRedisPublisher(rdb, "json"),
//	)
//
// # Submitting and waiting
//
//	jobID, err := eng.Submit(ctx, job.Record{
//	    Type:    job.TypeCaseAnalysis,
//	    Payload: map[string]any{"caseId": "c-42", "entityInvolved": true},
//	})
//	res, err := eng.Await(ctx, jobID)
//
// Children spawned by orchestrating handlers are tracked automatically;
// subscribe to event.KindWorkflowCompleted on eng.Bus() to learn when a
// parent's last child has finished.
package engine
