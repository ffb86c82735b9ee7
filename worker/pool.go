package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/queue"
)

// Gate controls per-queue rate limiting and concurrency. The pool calls
// Acquire before claiming a job and Release after execution completes.
// *queue.Manager satisfies it.
type Gate interface {
	// Acquire reports whether a job from queue may start now.
	Acquire(queue string) bool
	// Release frees the slot taken by Acquire.
	Release(queue string)
}

// Pool runs the jobs of a single queue with a fixed number of worker
// goroutines, so at most Concurrency jobs of that queue are active at
// once regardless of what other pools are doing.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	cfg          queue.Config
	strategy     backoff.Strategy
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat configuration. Zero disables heartbeats.
	heartbeatInterval time.Duration

	// Gate (optional).
	gate Gate

	wake       chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex

	processed atomic.Int64
	failed    atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPollInterval sets how long an idle worker waits before polling
// again when it is not woken by Notify.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithGate sets the rate and concurrency gate.
func WithGate(g Gate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// WithBackoff overrides the retry strategy derived from the queue's
// retry policy.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.strategy = s }
}

// NewPool creates the worker pool for one queue. The retry strategy
// comes from cfg.Retry unless WithBackoff is given.
func NewPool(
	cfg queue.Config,
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		cfg:          cfg,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger.With(slog.String("queue", cfg.Name)),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.strategy == nil {
		s, err := cfg.Retry.Strategy()
		if err != nil {
			p.logger.Warn("invalid retry policy, using default backoff", slog.String("error", err.Error()))
			s = backoff.DefaultStrategy()
		}
		p.strategy = s
	}
	return p
}

// Queue returns the name of the queue this pool serves.
func (p *Pool) Queue() string { return p.cfg.Name }

// Concurrency returns the number of worker goroutines.
func (p *Pool) Concurrency() int { return p.cfg.Concurrency }

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Running reports whether the pool has been started and not stopped.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Notify wakes one idle worker. It never blocks.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.cfg.Concurrency),
	)

	for range p.cfg.Concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to
// finish. If ctx ends first, active jobs are cancelled and Stop waits for
// their handlers to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	return nil
}

// Stats returns a point-in-time view of the pool.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Queue:       p.cfg.Name,
		WorkerID:    p.workerID.String(),
		Running:     p.Running(),
		Concurrency: p.cfg.Concurrency,
		Active:      p.Active(),
		Processed:   p.processed.Load(),
		Failed:      p.failed.Load(),
	}
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.gate != nil && !p.gate.Acquire(p.cfg.Name) {
			p.sleep()
			continue
		}

		claimed := p.runOne()

		if p.gate != nil {
			p.gate.Release(p.cfg.Name)
		}
		if !claimed {
			p.sleep()
		}
	}
}

// runOne claims and executes at most one job. It reports whether a job
// was claimed.
func (p *Pool) runOne() bool {
	jobs, err := p.store.DequeueJobs(context.Background(), []string{p.cfg.Name}, 1)
	if err != nil {
		p.logger.Error("dequeue error", slog.String("error", err.Error()))
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	j := jobs[0]
	j.WorkerID = p.workerID
	if j.Timeout == 0 {
		j.Timeout = p.cfg.Timeout
	}

	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID, cancel)

	execErr := p.executor.Execute(ctx, j, p.strategy)
	p.processed.Add(1)
	if execErr != nil {
		if j.State == job.StateFailed {
			p.failed.Add(1)
		}
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID),
			slog.String("job_type", string(j.Type)),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j.ID)
	cancel()
	return true
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobID := range jobIDs {
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) sleep() {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.wake:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
