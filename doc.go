// Package conductor is an asynchronous multi-queue job orchestration engine.
//
// Jobs are routed by type onto named queues, each served by its own worker
// pool with independent concurrency, retry policy and backoff. Handlers may
// fan out child jobs; a dependency tracker announces when every child of a
// parent has finished. Payloads and results travel as text through a tagged
// codec (see the codec package) so timestamps, byte buffers, large numeric
// vectors, sets, non-string-keyed maps, patterns, error records and
// self-referencing structures survive the transport.
//
// # Quick Start
//
//	c, err := conductor.New(
//	    conductor.WithStore(redisStore),
//	    conductor.WithLogger(logger),
//	)
//	eng, err := engine.Build(c, engine.WithInference(ollama))
//	_ = eng.Start(ctx)
//	jobID, err := eng.Submit(ctx, job.Record{Type: job.TypeCaseAnalysis, Payload: payload})
//	res, err := eng.Await(ctx, jobID)
//
// # Architecture
//
// Each subsystem (job, dependency, dlq) defines its own store interface and
// a single backend (memory, redis, postgres) implements all of them. The
// root package holds configuration, the error taxonomy and the Conductor
// lifecycle; the engine package wires subsystems together.
package conductor
