package conductor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Conductor.
type Option func(*Conductor) error

// Storer is the minimal store interface held by the Conductor. It covers
// lifecycle operations only; subsystem layers type-assert the same value
// to job.Store, dependency.Store and dlq.Store.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conductor owns the store, configuration and logger shared by every
// subsystem. Create one with New and hand it to engine.Build, which wires
// the worker pools back in through SetPool and SetExtensions.
type Conductor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a Conductor with the given options.
func New(opts ...Option) (*Conductor, error) {
	c := &Conductor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conductor's logger.
func (c *Conductor) Logger() *slog.Logger { return c.logger }

// Store returns the conductor's store.
func (c *Conductor) Store() Storer { return c.store }

// Config returns a copy of the conductor's configuration.
func (c *Conductor) Config() Config { return c.config }

// SetPool sets the worker pool group (called by the engine package).
func (c *Conductor) SetPool(p poolRunner) { c.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Conductor) SetExtensions(e extensionEmitter) { c.extensions = e }

// Started reports whether Start has succeeded and Stop has not run.
func (c *Conductor) Started() bool { return c.started }

// Start begins job processing.
func (c *Conductor) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoStore
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop drains the worker pools, notifies extensions and closes the store.
func (c *Conductor) Stop(ctx context.Context) error {
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		c.started = false
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Conductor) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The value must also satisfy the
// subsystem store interfaces, which every backend under store/ does.
func WithStore(s Storer) Option {
	return func(c *Conductor) error {
		c.store = s
		return nil
	}
}

// WithPollInterval sets how long idle workers wait between polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithRetention sets how long terminal jobs are kept.
func WithRetention(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.Retention = d
		return nil
	}
}
