package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/dependency"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/event/redispub"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/inference"
	"github.com/xraph/conductor/job"
	mw "github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/schedule"
	"github.com/xraph/conductor/status"
	"github.com/xraph/conductor/worker"
)

// Compile-time interface checks.
var (
	_ orchestrator.Submitter = (*Engine)(nil)
	_ orchestrator.JobGetter = (*Engine)(nil)
)

// Engine owns the queues, pools, tracker and bus built around a
// Conductor. Use Build to create one.
type Engine struct {
	c      *conductor.Conductor
	config conductor.Config
	logger *slog.Logger

	jobStore   job.Store
	extensions *ext.Registry
	bus        *event.Bus
	tracker    *dependency.Tracker
	dlqService *dlq.Service

	queueConfigs []queue.Config
	queues       map[string]queue.Config
	router       *queue.Router
	queueManager *queue.Manager
	group        *worker.Group

	handlers  *orchestrator.Registry
	inference inference.Service
	reporter  *status.Reporter
	scheduler *schedule.Scheduler
	metrics   *observability.MetricsExtension

	bo        backoff.Strategy
	mws       []mw.Middleware
	schedules []schedule.Entry

	redisClient redis.UniversalClient
	wireCodec   string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registerer     prometheus.Registerer
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueues replaces the queue layout. Without it queue.DefaultConfigs
// is used.
func WithQueues(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = configs }
}

// WithInference sets the inference service handed to handlers. Without
// it an Ollama client on the default address is used.
func WithInference(svc inference.Service) Option {
	return func(eng *Engine) { eng.inference = svc }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware inside the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff overrides the retry strategy of every queue.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithSchedule adds recurring submissions.
func WithSchedule(entries ...schedule.Entry) Option {
	return func(eng *Engine) { eng.schedules = append(eng.schedules, entries...) }
}

// WithRedisPublisher relays lifecycle events to Redis Pub/Sub using the
// named wire codec ("json" or "msgpack").
func WithRedisPublisher(client redis.UniversalClient, codecName string) Option {
	return func(eng *Engine) {
		eng.redisClient = client
		eng.wireCodec = codecName
	}
}

// WithTracerProvider sets the OTel TracerProvider used by the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider used by the metrics
// middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithPrometheusRegisterer registers the Prometheus lifecycle metrics
// with reg. If not set, they go to a private registry.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(eng *Engine) { eng.registerer = reg }
}

// Build creates an Engine from a Conductor. The Conductor's store must
// implement job.Store, dependency.Store and dlq.Store.
func Build(c *conductor.Conductor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()
	if store == nil {
		return nil, conductor.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement job.Store")
	}
	ds, ok := store.(dependency.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement dependency.Store")
	}
	qs, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement dlq.Store")
	}

	eng := &Engine{
		c:          c,
		config:     c.Config(),
		logger:     logger,
		jobStore:   js,
		extensions: ext.NewRegistry(logger),
		bus:        event.NewBus(logger),
	}
	// The bus is registered first so Await callers see events before any
	// slower extension runs.
	eng.extensions.Register(eng.bus)

	for _, opt := range opts {
		opt(eng)
	}

	if len(eng.queueConfigs) == 0 {
		eng.queueConfigs = queue.DefaultConfigs()
	}
	if err := queue.Validate(eng.queueConfigs); err != nil {
		return nil, fmt.Errorf("conductor: invalid queue layout: %w", err)
	}
	eng.queues = make(map[string]queue.Config, len(eng.queueConfigs))
	for _, qc := range eng.queueConfigs {
		eng.queues[qc.Name] = qc
	}
	eng.router = queue.NewRouter(eng.queueConfigs)
	eng.queueManager = queue.NewManager(eng.queueConfigs...)

	if eng.inference == nil {
		eng.inference = inference.NewOllama("", inference.WithLogger(logger))
	}

	reg := eng.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	eng.metrics = observability.NewMetricsExtensionWithRegisterer(reg)
	eng.extensions.Register(eng.metrics)

	if eng.redisClient != nil {
		eng.extensions.Register(redispub.New(eng.redisClient,
			redispub.WithCodec(eng.wireCodec),
			redispub.WithLogger(logger),
		))
	}

	eng.dlqService = dlq.NewService(qs, js)
	eng.tracker = dependency.NewTracker(ds, eng.extensions, logger)

	eng.handlers = orchestrator.NewRegistry(eng.inference,
		orchestrator.WithQueues(eng.queueConfigs),
		orchestrator.WithLogger(logger),
	)
	eng.handlers.Bind(eng, eng.tracker)

	executor := worker.NewExecutor(eng.handlers, js, eng.extensions, logger,
		worker.WithDLQ(eng.dlqService),
		worker.WithTracker(eng.tracker),
		worker.WithMiddleware(eng.middleware()...),
		worker.WithCopyDepth(eng.config.CopyDepth),
	)

	eng.group = worker.NewGroup(js, logger, worker.WithStaleJobThreshold(eng.config.StaleJobThreshold))
	for _, qc := range eng.queueConfigs {
		poolOpts := []worker.PoolOption{
			worker.WithPollInterval(eng.config.PollInterval),
			worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
			worker.WithGate(eng.queueManager),
		}
		if eng.bo != nil {
			poolOpts = append(poolOpts, worker.WithBackoff(eng.bo))
		}
		eng.group.Add(worker.NewPool(qc, js, executor, eng.extensions, logger, poolOpts...))
	}

	names := make([]string, len(eng.queueConfigs))
	for i, qc := range eng.queueConfigs {
		names[i] = qc.Name
	}
	eng.reporter = status.NewReporter(js, names,
		status.WithPools(eng.group),
		status.WithDependencies(eng.tracker),
		status.WithDeadLetters(eng.dlqService),
		status.WithLogger(logger),
	)

	sched, err := schedule.New(eng.Submit, eng.extensions, logger,
		schedule.WithRetention(eng.config.Retention, "@hourly", js, eng.dlqService),
	)
	if err != nil {
		return nil, err
	}
	for _, entry := range eng.schedules {
		if err := sched.Add(entry); err != nil {
			return nil, err
		}
	}
	eng.scheduler = sched

	// Wire back into the Conductor.
	c.SetPool(eng.group)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// middleware builds the execution chain: logging, tracing and metrics
// outermost, then recovery, the per-attempt timeout, and any user
// middleware closest to the handler.
func (eng *Engine) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/conductor"))
	}
	metrics := mw.Metrics()
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/conductor"))
	}

	chain := []mw.Middleware{
		mw.Logging(eng.logger),
		tracing,
		metrics,
		mw.Recover(eng.logger),
		mw.Timeout(eng.logger),
	}
	return append(chain, eng.mws...)
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

// Submit validates rec, routes it to its queue and stores it in waiting
// state. The returned ID is rec.ID or a generated one. Validation
// failures return *conductor.ValidationError and store nothing; store
// failures wrap conductor.ErrTransportUnavailable.
func (eng *Engine) Submit(ctx context.Context, rec job.Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	if rec.ParentJobID != "" {
		if _, err := eng.jobStore.GetJob(ctx, rec.ParentJobID); err != nil {
			if errors.Is(err, conductor.ErrJobNotFound) {
				return "", &conductor.ValidationError{
					Field:  "parent_job_id",
					Reason: fmt.Sprintf("unknown parent job %q", rec.ParentJobID),
				}
			}
			return "", fmt.Errorf("%w: %w", conductor.ErrTransportUnavailable, err)
		}
	}

	queueName := eng.router.Route(rec.Type)
	qc := eng.queues[queueName]

	payload, err := codec.Encode(codec.SafeCopy(rec.Payload, eng.config.CopyDepth))
	if err != nil {
		return "", &conductor.ValidationError{Field: "payload", Reason: err.Error()}
	}

	jobID := rec.ID
	if jobID == "" {
		jobID = id.NewJobID().String()
	}
	priority := rec.Priority
	if priority == 0 {
		priority = qc.PriorityTier
	}
	maxAttempts := qc.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = queue.DefaultRetryPolicy().MaxAttempts
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      conductor.NewEntity(),
		ID:          jobID,
		Type:        rec.Type,
		Queue:       queueName,
		Priority:    priority,
		Payload:     payload,
		ParentJobID: rec.ParentJobID,
		Metadata:    rec.Metadata,
		State:       job.StateWaiting,
		MaxAttempts: maxAttempts,
		RunAt:       now.Add(rec.Delay(now)),
		Timeout:     qc.Timeout,
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, conductor.ErrJobAlreadyExists) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", conductor.ErrTransportUnavailable, err)
	}

	level := slog.LevelDebug
	if j.Metadata.Track {
		level = slog.LevelInfo
	}
	eng.logger.Log(ctx, level, "job submitted",
		slog.String("job_id", j.ID),
		slog.String("job_type", string(j.Type)),
		slog.String("queue", j.Queue),
		slog.Int("priority", j.Priority),
		slog.Time("run_at", j.RunAt),
	)

	eng.extensions.EmitJobEnqueued(ctx, j)
	if j.ParentJobID != "" {
		eng.extensions.EmitChildSpawned(ctx, j.ParentJobID, j)
	}
	if !j.Delayed(now) {
		eng.group.Notify(queueName)
	}
	return j.ID, nil
}

// Await blocks until jobID is completed or failed and returns its
// result. A failed job is returned as a Result with Success false, not
// as an error. It returns event.ErrClosed if the engine stops first.
func (eng *Engine) Await(ctx context.Context, jobID string) (*job.Result, error) {
	// Watch before reading the store so a completion in between is not
	// lost.
	ch, cancel := eng.bus.Watch(jobID)
	defer cancel()

	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State.Terminal() {
		return job.ResultOf(j)
	}

	select {
	case _, ok := <-ch:
		if !ok {
			return nil, event.ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	j, err = eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.ResultOf(j)
}

// GetJob returns the stored job.
func (eng *Engine) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// Lookup describes a job: state, attempts, last error, outstanding
// children and, once terminal, its result.
func (eng *Engine) Lookup(ctx context.Context, jobID string) (*status.JobStatus, error) {
	return eng.reporter.Lookup(ctx, jobID)
}

// List summarises the jobs in one state, oldest first.
func (eng *Engine) List(ctx context.Context, f status.ListFilter) ([]*status.JobStatus, error) {
	return eng.reporter.List(ctx, f)
}

// Status returns a best-effort snapshot of queues, pools and fan-ins.
func (eng *Engine) Status(ctx context.Context) *status.Snapshot {
	return eng.reporter.Snapshot(ctx)
}

// ReplayDLQ resubmits a dead-lettered job with a fresh attempt budget.
func (eng *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := eng.dlqService.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.group.Notify(j.Queue)
	return j, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start starts the worker pools and the scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.c.Start(ctx); err != nil {
		return fmt.Errorf("start pools: %w", err)
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	eng.logger.Info("conductor started",
		slog.Int("queues", len(eng.queueConfigs)),
	)
	return nil
}

// Stop stops scheduling, drains in-flight jobs and closes the store. If
// ctx has no deadline the configured shutdown timeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
	}
	return eng.c.Stop(ctx)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Conductor returns the underlying Conductor.
func (eng *Engine) Conductor() *conductor.Conductor { return eng.c }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Bus returns the typed event bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// Handlers returns the handler registry, for adding or replacing
// handlers before Start.
func (eng *Engine) Handlers() *orchestrator.Registry { return eng.handlers }

// Tracker returns the dependency tracker.
func (eng *Engine) Tracker() *dependency.Tracker { return eng.tracker }

// DLQService returns the DLQ service for inspection and replay.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Router returns the type to queue router.
func (eng *Engine) Router() *queue.Router { return eng.router }

// Pools returns the worker pool group.
func (eng *Engine) Pools() *worker.Group { return eng.group }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

// Metrics returns the Prometheus lifecycle metrics extension.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// Queues returns the queue layout in use.
func (eng *Engine) Queues() []queue.Config {
	return append([]queue.Config(nil), eng.queueConfigs...)
}
