package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conductor/job"
)

// SubmitFunc enqueues a job. The engine provides it.
type SubmitFunc func(ctx context.Context, rec job.Record) (string, error)

// Emitter receives schedule lifecycle events. *ext.Registry satisfies it.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, scheduleName, jobID string)
}

// JobPurger deletes old terminal jobs. job.Store satisfies it.
type JobPurger interface {
	PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// DLQPurger deletes old dead-letter entries. *dlq.Service satisfies it.
type DLQPurger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Entry is a recurring submission.
type Entry struct {
	Name     string   `yaml:"name"`
	Spec     string   `yaml:"spec"`
	Type     job.Type `yaml:"type"`
	Priority int      `yaml:"priority"`
	Payload  any      `yaml:"payload"`
}

// EntryStatus reports an entry's next and previous run.
type EntryStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// RetentionEntryName is the name the janitor runs under.
const RetentionEntryName = "retention"

var (
	// ErrDuplicateEntry is returned when an entry name is already taken.
	ErrDuplicateEntry = errors.New("schedule: duplicate entry name")
	// ErrUnknownEntry is returned by Fire for a name never added.
	ErrUnknownEntry = errors.New("schedule: unknown entry")
)

var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec validates a cron expression.
func ParseSpec(spec string) (cronlib.Schedule, error) {
	return parser.Parse(spec)
}

type registered struct {
	entry Entry
	id    cronlib.EntryID
	run   func(ctx context.Context) error
}

// Scheduler owns a cron runner and its entries.
type Scheduler struct {
	cron    *cronlib.Cron
	submit  SubmitFunc
	emitter Emitter
	logger  *slog.Logger

	retention     time.Duration
	retentionSpec string
	jobs          JobPurger
	dlq           DLQPurger

	mu      sync.Mutex
	entries map[string]*registered
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetention enables the janitor. Terminal jobs and DLQ entries older
// than window are purged on spec. Either purger may be nil.
func WithRetention(window time.Duration, spec string, jobs JobPurger, dlq DLQPurger) Option {
	return func(s *Scheduler) {
		s.retention = window
		s.retentionSpec = spec
		s.jobs = jobs
		s.dlq = dlq
	}
}

// New creates a Scheduler. emitter may be nil.
func New(submit SubmitFunc, emitter Emitter, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		submit:        submit,
		emitter:       emitter,
		logger:        logger,
		retentionSpec: "@hourly",
		entries:       make(map[string]*registered),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger}
	s.cron = cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLocation(time.UTC),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.retention > 0 && (s.jobs != nil || s.dlq != nil) {
		if err := s.add(Entry{Name: RetentionEntryName, Spec: s.retentionSpec}, func(ctx context.Context) error {
			_, _, err := s.RunRetention(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a recurring submission.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("schedule: entry name must not be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("schedule: entry %q has no job type", e.Name)
	}
	return s.add(e, func(ctx context.Context) error {
		return s.fire(ctx, e)
	})
}

func (s *Scheduler) add(e Entry, run func(ctx context.Context) error) error {
	sched, err := ParseSpec(e.Spec)
	if err != nil {
		return fmt.Errorf("schedule: parse %q for %s: %w", e.Spec, e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Name)
	}
	r := &registered{entry: e, run: run}
	r.id = s.cron.Schedule(sched, cronlib.FuncJob(func() {
		if err := run(s.ctx); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("schedule", e.Name),
				slog.String("error", err.Error()),
			)
		}
	}))
	s.entries[e.Name] = r
	return nil
}

// Remove unregisters an entry. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.entries[name]; ok {
		s.cron.Remove(r.id)
		delete(s.entries, name)
	}
}

// Fire runs an entry immediately, outside its schedule.
func (s *Scheduler) Fire(ctx context.Context, name string) error {
	s.mu.Lock()
	r, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, name)
	}
	return r.run(ctx)
}

func (s *Scheduler) fire(ctx context.Context, e Entry) error {
	jobID, err := s.submit(ctx, job.Record{
		Type:     e.Type,
		Priority: e.Priority,
		Payload:  e.Payload,
		Metadata: job.Metadata{Tags: map[string]string{"schedule": e.Name}},
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", e.Type, err)
	}
	s.logger.Debug("schedule fired",
		slog.String("schedule", e.Name),
		slog.String("job_id", jobID),
	)
	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, e.Name, jobID)
	}
	return nil
}

// RunRetention purges terminal jobs and DLQ entries older than the
// retention window.
func (s *Scheduler) RunRetention(ctx context.Context) (jobs, dead int64, err error) {
	if s.retention <= 0 {
		return 0, 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.retention)

	var errs []error
	if s.jobs != nil {
		n, purgeErr := s.jobs.PurgeJobs(ctx, cutoff)
		if purgeErr != nil {
			errs = append(errs, fmt.Errorf("purge jobs: %w", purgeErr))
		}
		jobs = n
	}
	if s.dlq != nil {
		n, purgeErr := s.dlq.Purge(ctx, cutoff)
		if purgeErr != nil {
			errs = append(errs, fmt.Errorf("purge dlq: %w", purgeErr))
		}
		dead = n
	}
	if jobs > 0 || dead > 0 {
		s.logger.Info("retention purge",
			slog.Int64("jobs", jobs),
			slog.Int64("dead_letters", dead),
			slog.Time("cutoff", cutoff),
		)
	}
	if s.emitter != nil && len(errs) == 0 {
		s.emitter.EmitScheduleFired(ctx, RetentionEntryName, "")
	}
	return jobs, dead, errors.Join(errs...)
}

// Entries reports every registered entry, sorted by cron order.
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	byID := make(map[cronlib.EntryID]Entry, len(s.entries))
	for _, r := range s.entries {
		byID[r.id] = r.entry
	}
	s.mu.Unlock()

	var out []EntryStatus
	for _, ce := range s.cron.Entries() {
		e, ok := byID[ce.ID]
		if !ok {
			continue
		}
		out = append(out, EntryStatus{Name: e.Name, Spec: e.Spec, Next: ce.Next, Prev: ce.Prev})
	}
	return out
}

// Start begins running entries on their schedules.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("entries", len(s.Entries())))
	return nil
}

// Stop halts the cron runner and waits for running entries until ctx
// expires, after which their context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
