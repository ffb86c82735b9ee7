// Package status builds best-effort snapshots of queue depth, pool
// activity and outstanding fan-ins. A failing source is reported in
// Snapshot.Errors instead of failing the whole report.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/worker"
)

// QueueCounts holds job counts for one queue. Waiting excludes delayed
// jobs.
type QueueCounts struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Total is the sum of every state.
func (c QueueCounts) Total() int64 {
	return c.Waiting + c.Delayed + c.Active + c.Completed + c.Failed
}

func (c *QueueCounts) add(o QueueCounts) {
	c.Waiting += o.Waiting
	c.Delayed += o.Delayed
	c.Active += o.Active
	c.Completed += o.Completed
	c.Failed += o.Failed
}

// Snapshot is a point-in-time system report.
type Snapshot struct {
	Timestamp      time.Time          `json:"timestamp"`
	Queues         []QueueCounts      `json:"queues"`
	Totals         QueueCounts        `json:"totals"`
	Pools          []worker.PoolStats `json:"pools"`
	PendingParents int64              `json:"pending_parents"`
	DeadLetters    int64              `json:"dead_letters"`
	Errors         []string           `json:"errors,omitempty"`
}

// Healthy reports whether every source answered and every pool runs.
func (s *Snapshot) Healthy() bool {
	if len(s.Errors) > 0 {
		return false
	}
	for _, p := range s.Pools {
		if !p.Running {
			return false
		}
	}
	return true
}

// JobStatus describes a single job.
type JobStatus struct {
	ID              string        `json:"id"`
	Type            job.Type      `json:"type"`
	Queue           string        `json:"queue"`
	State           job.State     `json:"state"`
	Priority        int           `json:"priority"`
	Attempts        int           `json:"attempts"`
	MaxAttempts     int           `json:"max_attempts"`
	LastError       string        `json:"last_error,omitempty"`
	ParentJobID     string        `json:"parent_job_id,omitempty"`
	SpawnedChildIDs []string      `json:"spawned_child_ids,omitempty"`
	PendingChildren []string      `json:"pending_children,omitempty"`
	// QueuePosition is 1 for the next job its queue will run. Only due
	// waiting jobs have one.
	QueuePosition *int `json:"queue_position,omitempty"`
	RunAt           time.Time     `json:"run_at"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ProcessingTime  time.Duration `json:"processing_time"`
	Result          *job.Result   `json:"result,omitempty"`
}

// PoolSource reports pool statistics. *worker.Group satisfies it.
type PoolSource interface {
	Stats() []worker.PoolStats
}

// DependencySource reports outstanding fan-ins. *dependency.Tracker
// satisfies it.
type DependencySource interface {
	Parents(ctx context.Context) (int64, error)
	Pending(ctx context.Context, parentID string) ([]string, error)
}

// DeadLetterCounter reports the DLQ size. *dlq.Service satisfies it.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Reporter assembles snapshots.
type Reporter struct {
	jobs   job.Store
	queues []string
	pools  PoolSource
	deps   DependencySource
	dlq    DeadLetterCounter
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithPools adds pool statistics.
func WithPools(p PoolSource) Option { return func(r *Reporter) { r.pools = p } }

// WithDependencies adds fan-in counts and per-job pending children.
func WithDependencies(d DependencySource) Option { return func(r *Reporter) { r.deps = d } }

// WithDeadLetters adds the DLQ size.
func WithDeadLetters(c DeadLetterCounter) Option { return func(r *Reporter) { r.dlq = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reporter) { r.logger = l } }

// NewReporter creates a reporter counting jobs in queues.
func NewReporter(jobs job.Store, queues []string, opts ...Option) *Reporter {
	r := &Reporter{
		jobs:   jobs,
		queues: append([]string(nil), queues...),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot collects the current report. It never fails; sources that
// error are listed in Errors and their figures left at zero.
func (r *Reporter) Snapshot(ctx context.Context) *Snapshot {
	now := r.now().UTC()
	snap := &Snapshot{Timestamp: now, Queues: make([]QueueCounts, 0, len(r.queues))}

	for _, q := range r.queues {
		counts, err := r.countQueue(ctx, q, now)
		if err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("queue %s: %v", q, err))
			r.logger.Warn("status: queue count failed",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
		}
		snap.Queues = append(snap.Queues, counts)
		snap.Totals.add(counts)
	}

	if r.pools != nil {
		snap.Pools = r.pools.Stats()
	}
	if r.deps != nil {
		n, err := r.deps.Parents(ctx)
		if err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("dependencies: %v", err))
		}
		snap.PendingParents = n
	}
	if r.dlq != nil {
		n, err := r.dlq.Count(ctx)
		if err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("dlq: %v", err))
		}
		snap.DeadLetters = n
	}
	return snap
}

func (r *Reporter) countQueue(ctx context.Context, q string, now time.Time) (QueueCounts, error) {
	c := QueueCounts{Queue: q}
	count := func(state job.State, runAfter time.Time) (int64, error) {
		return r.jobs.CountJobs(ctx, job.CountOpts{Queue: q, State: state, RunAfter: runAfter})
	}

	waiting, err := count(job.StateWaiting, time.Time{})
	if err != nil {
		return c, err
	}
	if c.Delayed, err = count(job.StateWaiting, now); err != nil {
		return c, err
	}
	c.Waiting = max(0, waiting-c.Delayed)
	if c.Active, err = count(job.StateActive, time.Time{}); err != nil {
		return c, err
	}
	if c.Completed, err = count(job.StateCompleted, time.Time{}); err != nil {
		return c, err
	}
	if c.Failed, err = count(job.StateFailed, time.Time{}); err != nil {
		return c, err
	}
	return c, nil
}

// ErrInvalidState is returned by List for a state no stored job can hold.
var ErrInvalidState = errors.New("status: state must be waiting, active, completed or failed")

// ListFilter selects jobs for List.
type ListFilter struct {
	State  job.State
	Queue  string
	Limit  int
	Offset int
}

// List summarises the jobs in one state, oldest first. Results are not
// decoded; use Lookup for a single job's result.
func (r *Reporter) List(ctx context.Context, f ListFilter) ([]*JobStatus, error) {
	switch f.State {
	case job.StateWaiting, job.StateActive, job.StateCompleted, job.StateFailed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, f.State)
	}
	jobs, err := r.jobs.ListJobsByState(ctx, f.State, job.ListOpts{
		Queue:  f.Queue,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = statusOf(j)
	}
	return out, nil
}

// Lookup describes one job. Terminal jobs carry their decoded result and
// due waiting jobs their queue position.
func (r *Reporter) Lookup(ctx context.Context, jobID string) (*JobStatus, error) {
	j, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := statusOf(j)
	if r.deps != nil && len(j.SpawnedChildIDs) > 0 {
		pending, depErr := r.deps.Pending(ctx, j.ID)
		if depErr != nil {
			r.logger.Warn("status: pending children lookup failed",
				slog.String("job_id", j.ID),
				slog.String("error", depErr.Error()),
			)
		}
		st.PendingChildren = pending
	}
	if j.Due(r.now()) {
		pos, posErr := r.position(ctx, j)
		if posErr != nil {
			r.logger.Warn("status: queue position lookup failed",
				slog.String("job_id", j.ID),
				slog.String("error", posErr.Error()),
			)
		} else {
			st.QueuePosition = &pos
		}
	}
	if j.State.Terminal() {
		res, resErr := job.ResultOf(j)
		if resErr != nil {
			return nil, fmt.Errorf("decode result of %s: %w", j.ID, resErr)
		}
		st.Result = res
	}
	return st, nil
}

// position counts the due jobs of j's queue that dequeue before it.
func (r *Reporter) position(ctx context.Context, j *job.Job) (int, error) {
	waiting, err := r.jobs.ListJobsByState(ctx, job.StateWaiting, job.ListOpts{Queue: j.Queue})
	if err != nil {
		return 0, err
	}
	now := r.now()
	pos := 1
	for _, other := range waiting {
		if other.ID != j.ID && other.Due(now) && job.Less(other, j) {
			pos++
		}
	}
	return pos, nil
}

func statusOf(j *job.Job) *JobStatus {
	return &JobStatus{
		ID:              j.ID,
		Type:            j.Type,
		Queue:           j.Queue,
		State:           j.State,
		Priority:        j.Priority,
		Attempts:        j.Attempts,
		MaxAttempts:     j.MaxAttempts,
		LastError:       j.LastError,
		ParentJobID:     j.ParentJobID,
		SpawnedChildIDs: j.SpawnedChildIDs,
		RunAt:           j.RunAt,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		ProcessingTime:  j.ProcessingTime,
	}
}
