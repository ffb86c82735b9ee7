package dependency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conductor"
)

// Emitter receives the fan-in signal. *ext.Registry satisfies it.
type Emitter interface {
	EmitWorkflowCompleted(ctx context.Context, parentJobID string, failedChildren int)
}

// Tracker maintains the parent to children sets.
type Tracker struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// NewTracker creates a tracker over store. emitter may be nil.
func NewTracker(store Store, emitter Emitter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, emitter: emitter, logger: logger}
}

// AddDependency registers childID as an outstanding child of parentID.
func (t *Tracker) AddDependency(ctx context.Context, parentID, childID string) error {
	if parentID == "" {
		return &conductor.ValidationError{Field: "parent_job_id", Reason: "must not be empty"}
	}
	if childID == "" {
		return &conductor.ValidationError{Field: "id", Reason: "child id must not be empty"}
	}
	if parentID == childID {
		return &conductor.ValidationError{Field: "parent_job_id", Reason: "a job cannot be its own parent"}
	}
	if err := t.store.AddDependency(ctx, parentID, childID); err != nil {
		return fmt.Errorf("add dependency %s -> %s: %w", parentID, childID, err)
	}
	return nil
}

// OnChildCompleted records that childID finished successfully.
func (t *Tracker) OnChildCompleted(ctx context.Context, childID string) error {
	return t.remove(ctx, childID, false)
}

// OnChildFailed records that childID failed terminally. For fan-in it
// counts the same as a completion.
func (t *Tracker) OnChildFailed(ctx context.Context, childID string) error {
	return t.remove(ctx, childID, true)
}

func (t *Tracker) remove(ctx context.Context, childID string, failed bool) error {
	r, err := t.store.RemoveDependency(ctx, childID, failed)
	if err != nil {
		return fmt.Errorf("remove dependency %s: %w", childID, err)
	}
	if !r.Drained {
		return nil
	}

	t.logger.Debug("workflow fan-in complete",
		slog.String("job_id", r.ParentID),
		slog.Int("failed_children", r.FailedChildren),
	)
	if t.emitter != nil {
		t.emitter.EmitWorkflowCompleted(ctx, r.ParentID, r.FailedChildren)
	}
	return nil
}

// Pending returns the outstanding children of parentID.
func (t *Tracker) Pending(ctx context.Context, parentID string) ([]string, error) {
	return t.store.PendingChildren(ctx, parentID)
}

// Parents returns how many parents are still waiting on children.
func (t *Tracker) Parents(ctx context.Context) (int64, error) {
	return t.store.CountParents(ctx)
}
