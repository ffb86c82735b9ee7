package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Bus)(nil)
	_ ext.JobEnqueued       = (*Bus)(nil)
	_ ext.JobStarted        = (*Bus)(nil)
	_ ext.JobCompleted      = (*Bus)(nil)
	_ ext.JobRetrying       = (*Bus)(nil)
	_ ext.JobFailed         = (*Bus)(nil)
	_ ext.WorkflowCompleted = (*Bus)(nil)
	_ ext.Shutdown          = (*Bus)(nil)
)

// DefaultBufferSize is the default per-subscription buffer.
const DefaultBufferSize = 256

// Bus fans lifecycle events out to subscriptions and per-job watchers.
type Bus struct {
	logger     *slog.Logger
	bufferSize int

	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	watchers map[string]map[uint64]chan Event
	nextID   uint64
	closed   bool

	published atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscription buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:     logger,
		bufferSize: DefaultBufferSize,
		subs:       make(map[uint64]*Subscription),
		watchers:   make(map[string]map[uint64]chan Event),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Bus) Name() string { return "event-bus" }

// Subscribe registers a subscription for the given kinds. With no kinds
// the subscription receives every event. On a closed bus the returned
// subscription's channel is already closed.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := newSubscription(b.nextID, b.bufferSize, kinds)
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		sub.close()
	}
}

// Watch returns a channel that receives the terminal event (JobCompleted
// or JobFailed) of jobID, and a cancel func that releases the watcher.
// Callers must check the job's stored state after calling Watch, since a
// job that finished before the call produces no event.
func (b *Bus) Watch(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	wid := b.nextID
	set, ok := b.watchers[jobID]
	if !ok {
		set = make(map[uint64]chan Event)
		b.watchers[jobID] = set
	}
	set[wid] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.watchers[jobID]; ok {
			delete(set, wid)
			if len(set) == 0 {
				delete(b.watchers, jobID)
			}
		}
	}
}

// Wait blocks until jobID reaches a terminal event, ctx ends or the bus
// shuts down.
func (b *Bus) Wait(ctx context.Context, jobID string) (Event, error) {
	ch, cancel := b.Watch(jobID)
	defer cancel()
	select {
	case evt, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrClosed is returned by Wait once the bus has shut down.
var ErrClosed = errors.New("conductor: event bus closed")

// Stats returns bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs, watched := len(b.subs), len(b.watchers)
	b.mu.RUnlock()
	return Stats{
		Subscriptions:  subs,
		WatchedJobs:    watched,
		TotalPublished: b.published.Load(),
		TotalDropped:   b.dropped.Load(),
	}
}

// Stats contains bus metrics.
type Stats struct {
	Subscriptions  int   `json:"subscriptions"`
	WatchedJobs    int   `json:"watched_jobs"`
	TotalPublished int64 `json:"total_published"`
	TotalDropped   int64 `json:"total_dropped"`
}

// Publish delivers evt to every matching subscription and, for terminal
// events, to the job's watchers.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	kind := evt.Kind()
	for _, sub := range b.subs {
		if !sub.wants(kind) {
			continue
		}
		if sub.send(evt) {
			b.published.Add(1)
		} else {
			b.dropped.Add(1)
		}
	}

	if !Terminal(evt) {
		return
	}
	jobID := evt.Subject()
	for _, ch := range b.watchers[jobID] {
		select {
		case ch <- evt:
		default:
		}
	}
	delete(b.watchers, jobID)
}

// ── Lifecycle hooks ─────────────────────────────────

func (b *Bus) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.Publish(JobEnqueued{Header: headerOf(j), ParentJobID: j.ParentJobID})
	return nil
}

func (b *Bus) OnJobStarted(_ context.Context, j *job.Job) error {
	b.Publish(JobStarted{Header: headerOf(j), Attempt: j.Attempts + 1})
	return nil
}

func (b *Bus) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	var result any
	if j.Result != "" {
		v, err := codec.Decode(j.Result)
		if err != nil {
			b.logger.Warn("event bus: undecodable job result",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
		result = v
	}
	b.Publish(JobCompleted{Header: headerOf(j), Result: result, Elapsed: elapsed})
	return nil
}

func (b *Bus) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	b.Publish(JobRetrying{
		Header:    headerOf(j),
		Attempt:   attempt,
		NextRunAt: nextRunAt,
		Error:     j.LastError,
	})
	return nil
}

func (b *Bus) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	msg := j.LastError
	if jobErr != nil {
		msg = jobErr.Error()
	}
	b.Publish(JobFailed{Header: headerOf(j), Attempts: j.Attempts, Error: msg})
	return nil
}

func (b *Bus) OnWorkflowCompleted(_ context.Context, parentJobID string, failedChildren int) error {
	b.Publish(WorkflowCompleted{
		ParentJobID:    parentJobID,
		FailedChildren: failedChildren,
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// OnShutdown closes every subscription and releases every watcher.
func (b *Bus) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sid, sub := range b.subs {
		sub.close()
		delete(b.subs, sid)
	}
	for jobID, set := range b.watchers {
		for _, ch := range set {
			close(ch)
		}
		delete(b.watchers, jobID)
	}
	b.logger.Info("event bus shut down")
	return nil
}
