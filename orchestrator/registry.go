package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/conductor/inference"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/worker"
)

// HandlerFunc runs one job. The returned value becomes the job result.
type HandlerFunc func(ctx context.Context, inv *Invocation) (any, error)

// Submitter enqueues a child job and returns its ID.
type Submitter interface {
	Submit(ctx context.Context, rec job.Record) (string, error)
}

// JobGetter is implemented by submitters that can read stored jobs.
// Spawn uses it to skip children an earlier attempt already submitted.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
}

// Tracker records parent to child edges.
type Tracker interface {
	AddDependency(ctx context.Context, parentID, childID string) error
	OnChildFailed(ctx context.Context, childID string) error
}

// ErrUnbound is returned by Spawn before Bind has been called.
var ErrUnbound = errors.New("orchestrator: registry is not bound to a submitter")

// Registry is the job type to handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[job.Type]HandlerFunc
	fallback HandlerFunc

	inference inference.Service
	affinity  map[string]string
	submitter Submitter
	tracker   Tracker
	logger    *slog.Logger
}

var _ worker.Runner = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithQueues records each queue's resource affinity.
func WithQueues(configs []queue.Config) Option {
	return func(r *Registry) {
		for _, cfg := range configs {
			if cfg.ResourceAffinity != "" {
				r.affinity[cfg.Name] = cfg.ResourceAffinity
			}
		}
	}
}

// WithFallback replaces the handler used for types with no entry.
func WithFallback(h HandlerFunc) Option {
	return func(r *Registry) { r.fallback = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry holding the built-in handlers.
func NewRegistry(svc inference.Service, opts ...Option) *Registry {
	r := &Registry{
		handlers:  make(map[job.Type]HandlerFunc),
		fallback:  Generic,
		inference: svc,
		affinity:  make(map[string]string),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers[job.TypeCaseAnalysis] = CaseAnalysis
	r.handlers[job.TypeStrategyPlanning] = StrategyPlanning
	r.handlers[job.TypeDocumentEmbedding] = DocumentEmbedding
	return r
}

// Bind connects the registry to the engine that submits children. It
// must be called before workers start.
func (r *Registry) Bind(sub Submitter, tr Tracker) {
	r.mu.Lock()
	r.submitter, r.tracker = sub, tr
	r.mu.Unlock()
}

// Handle registers h for t, replacing any existing handler.
func (r *Registry) Handle(t job.Type, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
}

// Lookup returns the handler for t, or the fallback.
func (r *Registry) Lookup(t job.Type) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[t]; ok {
		return h
	}
	return r.fallback
}

// Affinity returns the model class preferred by a queue.
func (r *Registry) Affinity(queueName string) string {
	if a, ok := r.affinity[queueName]; ok {
		return a
	}
	return inference.ClassGeneral
}

// Run implements worker.Runner.
func (r *Registry) Run(ctx context.Context, j *job.Job, payload any) (any, error) {
	r.mu.RLock()
	sub, tr := r.submitter, r.tracker
	r.mu.RUnlock()

	inv := &Invocation{
		Job:       j,
		Payload:   payload,
		Inference: r.inference,
		Affinity:  r.Affinity(j.Queue),
		submitter: sub,
		tracker:   tr,
		logger:    r.logger,
	}
	out, err := r.Lookup(j.Type)(ctx, inv)
	// Children already submitted are recorded even when the handler fails.
	j.SpawnedChildIDs = inv.Children()
	if err != nil {
		return nil, fmt.Errorf("%s handler: %w", j.Type, err)
	}
	return out, nil
}
