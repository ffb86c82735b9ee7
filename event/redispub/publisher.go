// Package redispub relays Conductor lifecycle events to Redis Pub/Sub so
// processes outside the engine (status pollers, notification services)
// can follow jobs without sharing memory with it.
//
// Each event is published on "conductor:events:<kind>", for example
// "conductor:events:job:completed", as a [Frame] encoded with a json or
// msgpack wire codec.
package redispub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Publisher)(nil)
	_ ext.JobEnqueued       = (*Publisher)(nil)
	_ ext.JobStarted        = (*Publisher)(nil)
	_ ext.JobCompleted      = (*Publisher)(nil)
	_ ext.JobRetrying       = (*Publisher)(nil)
	_ ext.JobFailed         = (*Publisher)(nil)
	_ ext.WorkflowCompleted = (*Publisher)(nil)
)

// ChannelPrefix prefixes every channel name.
const ChannelPrefix = "conductor:events:"

// Channel returns the Pub/Sub channel for an event kind.
func Channel(k event.Kind) string { return ChannelPrefix + string(k) }

// Frame is the published message. Result holds the job's encoded result
// text so subscribers can restore tagged values with codec.Decode.
type Frame struct {
	Kind           event.Kind `json:"kind"`
	JobID          string     `json:"job_id,omitempty"`
	Type           job.Type   `json:"type,omitempty"`
	Queue          string     `json:"queue,omitempty"`
	ParentJobID    string     `json:"parent_job_id,omitempty"`
	Attempt        int        `json:"attempt,omitempty"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	ElapsedMs      int64      `json:"elapsed_ms,omitempty"`
	NextRunAt      int64      `json:"next_run_at,omitempty"`
	FailedChildren int        `json:"failed_children,omitempty"`
	Timestamp      int64      `json:"timestamp"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithCodec selects the wire codec by name ("json" or "msgpack").
func WithCodec(name string) Option {
	return func(p *Publisher) { p.codec = codec.GetWireCodec(name) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// Publisher is an extension that publishes lifecycle events to Redis.
// Publish errors are returned to the ext registry, which logs them.
type Publisher struct {
	client redis.UniversalClient
	codec  codec.WireCodec
	logger *slog.Logger
}

// New creates a publisher. The caller owns the client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		codec:  codec.JSONWire{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements ext.Extension.
func (p *Publisher) Name() string { return "redis-publisher" }

// Codec returns the wire codec in use.
func (p *Publisher) Codec() codec.WireCodec { return p.codec }

// Decode unmarshals a payload received from one of the channels.
func (p *Publisher) Decode(payload string) (*Frame, error) {
	var f Frame
	if err := p.codec.Unmarshal([]byte(payload), &f); err != nil {
		return nil, fmt.Errorf("conductor/redispub: decode frame: %w", err)
	}
	return &f, nil
}

func (p *Publisher) publish(ctx context.Context, f *Frame) error {
	f.Timestamp = time.Now().UTC().UnixMilli()
	data, err := p.codec.Marshal(f)
	if err != nil {
		return fmt.Errorf("conductor/redispub: marshal %s: %w", f.Kind, err)
	}
	if err := p.client.Publish(ctx, Channel(f.Kind), data).Err(); err != nil {
		return fmt.Errorf("conductor/redispub: publish %s: %w", f.Kind, err)
	}
	return nil
}

func frameOf(k event.Kind, j *job.Job) *Frame {
	return &Frame{
		Kind:        k,
		JobID:       j.ID,
		Type:        j.Type,
		Queue:       j.Queue,
		ParentJobID: j.ParentJobID,
	}
}

// ── Lifecycle hooks ─────────────────────────────────

func (p *Publisher) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return p.publish(ctx, frameOf(event.KindJobEnqueued, j))
}

func (p *Publisher) OnJobStarted(ctx context.Context, j *job.Job) error {
	f := frameOf(event.KindJobStarted, j)
	f.Attempt = j.Attempts + 1
	return p.publish(ctx, f)
}

func (p *Publisher) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	f := frameOf(event.KindJobCompleted, j)
	f.Result = j.Result
	f.ElapsedMs = elapsed.Milliseconds()
	return p.publish(ctx, f)
}

func (p *Publisher) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	f := frameOf(event.KindJobRetrying, j)
	f.Attempt = attempt
	f.Error = j.LastError
	f.NextRunAt = nextRunAt.UnixMilli()
	return p.publish(ctx, f)
}

func (p *Publisher) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	f := frameOf(event.KindJobFailed, j)
	f.Attempt = j.Attempts
	f.Error = j.LastError
	if jobErr != nil {
		f.Error = jobErr.Error()
	}
	return p.publish(ctx, f)
}

func (p *Publisher) OnWorkflowCompleted(ctx context.Context, parentJobID string, failedChildren int) error {
	return p.publish(ctx, &Frame{
		Kind:           event.KindWorkflowCompleted,
		ParentJobID:    parentJobID,
		FailedChildren: failedChildren,
	})
}
