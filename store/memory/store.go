// Package memory implements store.Store with in-process maps. Safe for
// concurrent access. Intended for unit tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dependency"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Compile-time interface checks. store.Store cannot be named here
// without an import cycle in tests, so each subsystem is checked.
var (
	_ job.Store        = (*Store)(nil)
	_ dependency.Store = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
)

type children struct {
	pending map[string]struct{}
	failed  int
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
	dlqs map[string]*dlq.Entry

	parents  map[string]*children
	parentOf map[string]string

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		dlqs:     make(map[string]*dlq.Entry),
		parents:  make(map[string]*children),
		parentOf: make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in waiting state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conductor.ErrStoreClosed
	}
	if _, exists := m.jobs[j.ID]; exists {
		return conductor.ErrJobAlreadyExists
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, marks them active, and returns copies.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()
	candidates := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if !j.Due(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool { return job.Less(candidates[i], candidates[k]) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		started, beat := now, now
		j.StartedAt = &started
		j.HeartbeatAt = &beat
		j.UpdatedAt = now
		result[i] = j.Clone()
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, conductor.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return conductor.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[j.ID] = cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return conductor.ErrJobNotFound
	}
	delete(m.jobs, jobID)
	return nil
}

// ListJobsByState returns jobs matching the given state ordered by
// creation time.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat of an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID string, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return conductor.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, conductor.ErrStoreClosed
	}

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if !opts.RunAfter.IsZero() && !j.RunAt.After(opts.RunAfter) {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeJobs deletes terminal jobs last updated before cutoff.
func (m *Store) PurgeJobs(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Dependency Store
// ──────────────────────────────────────────────────

// AddDependency inserts childID into parentID's outstanding set.
func (m *Store) AddDependency(_ context.Context, parentID, childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.parents[parentID]
	if !ok {
		set = &children{pending: make(map[string]struct{})}
		m.parents[parentID] = set
	}
	set.pending[childID] = struct{}{}
	m.parentOf[childID] = parentID
	return nil
}

// RemoveDependency removes childID from its parent's set.
func (m *Store) RemoveDependency(_ context.Context, childID string, failed bool) (dependency.Removal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parentID, ok := m.parentOf[childID]
	if !ok {
		return dependency.Removal{}, nil
	}
	delete(m.parentOf, childID)

	set, ok := m.parents[parentID]
	if !ok {
		return dependency.Removal{ParentID: parentID}, nil
	}
	if _, pending := set.pending[childID]; !pending {
		return dependency.Removal{ParentID: parentID}, nil
	}
	delete(set.pending, childID)
	if failed {
		set.failed++
	}
	if len(set.pending) > 0 {
		return dependency.Removal{ParentID: parentID}, nil
	}

	delete(m.parents, parentID)
	return dependency.Removal{ParentID: parentID, Drained: true, FailedChildren: set.failed}, nil
}

// PendingChildren returns the outstanding children of parentID, sorted.
func (m *Store) PendingChildren(_ context.Context, parentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.parents[parentID]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set.pending))
	for c := range set.pending {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// CountParents returns how many parents have outstanding children.
func (m *Store) CountParents(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.parents)), nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conductor.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks an entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conductor.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
