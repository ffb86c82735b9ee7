package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// PoolStats is a point-in-time view of one pool.
type PoolStats struct {
	Queue       string `json:"queue"`
	WorkerID    string `json:"worker_id"`
	Running     bool   `json:"running"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
}

// Group starts and stops a set of pools together and runs the stale job
// reaper on their behalf.
type Group struct {
	store  job.Store
	logger *slog.Logger

	staleJobThreshold time.Duration

	pools   []*Pool
	byQueue map[string]*Pool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithStaleJobThreshold sets the threshold after which active jobs
// without a heartbeat are handed back to their queue. A zero value
// disables reaping.
func WithStaleJobThreshold(d time.Duration) GroupOption {
	return func(g *Group) { g.staleJobThreshold = d }
}

// NewGroup creates an empty Group.
func NewGroup(store job.Store, logger *slog.Logger, opts ...GroupOption) *Group {
	g := &Group{
		store:   store,
		logger:  logger,
		byQueue: make(map[string]*Pool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add registers a pool. Adding a second pool for the same queue replaces
// the first in lookups.
func (g *Group) Add(p *Pool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pools = append(g.pools, p)
	g.byQueue[p.Queue()] = p
}

// Pool returns the pool serving queue.
func (g *Group) Pool(queue string) (*Pool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.byQueue[queue]
	return p, ok
}

// Pools returns every pool in registration order.
func (g *Group) Pools() []*Pool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Pool(nil), g.pools...)
}

// Notify wakes an idle worker of queue's pool, if there is one.
func (g *Group) Notify(queue string) {
	if p, ok := g.Pool(queue); ok {
		p.Notify()
	}
}

// Stats returns the stats of every pool in registration order.
func (g *Group) Stats() []PoolStats {
	pools := g.Pools()
	out := make([]PoolStats, len(pools))
	for i, p := range pools {
		out[i] = p.Stats()
	}
	return out
}

// Start launches every pool and the reaper.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.stopCh = make(chan struct{})
	pools := append([]*Pool(nil), g.pools...)
	g.mu.Unlock()

	for _, p := range pools {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}

	if g.staleJobThreshold > 0 {
		g.wg.Add(1)
		go g.reaperLoop()
	}
	return nil
}

// Stop drains every pool concurrently, bounded by ctx.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	close(g.stopCh)
	pools := append([]*Pool(nil), g.pools...)
	g.mu.Unlock()

	g.wg.Wait()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range pools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// reaperLoop periodically reaps stale jobs whose heartbeat has expired.
func (g *Group) reaperLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.ReapStaleJobs(context.Background())
		}
	}
}

// ReapStaleJobs hands active jobs whose heartbeat is older than the
// stale threshold back to their queue and returns how many it reset.
func (g *Group) ReapStaleJobs(ctx context.Context) int {
	stale, err := g.store.ReapStaleJobs(ctx, g.staleJobThreshold)
	if err != nil {
		g.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return 0
	}

	reaped := 0
	for _, j := range stale {
		j.State = job.StateWaiting
		j.RunAt = time.Now().UTC()
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		j.StartedAt = nil

		if updateErr := g.store.UpdateJob(ctx, j); updateErr != nil {
			g.logger.Error("reap: failed to reset stale job",
				slog.String("job_id", j.ID),
				slog.String("error", updateErr.Error()),
			)
			continue
		}
		reaped++
		g.Notify(j.Queue)

		g.logger.Info("reaped stale job",
			slog.String("job_id", j.ID),
			slog.String("job_type", string(j.Type)),
			slog.String("queue", j.Queue),
		)
	}
	return reaped
}
