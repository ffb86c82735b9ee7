package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/inference"
	"github.com/xraph/conductor/job"
)

// maxJobIDLen matches the limit enforced by job.Record.Validate.
const maxJobIDLen = 255

// Invocation is the context handed to a HandlerFunc.
type Invocation struct {
	Job     *job.Job
	Payload any

	Inference inference.Service
	// Affinity is the model class preferred by the job's queue.
	Affinity string

	submitter Submitter
	tracker   Tracker
	logger    *slog.Logger
	children  []string
}

// Children returns the IDs of children spawned so far, including those
// an earlier attempt of the same job already submitted.
func (inv *Invocation) Children() []string {
	return append([]string(nil), inv.children...)
}

// ChildID derives the ID of the n-th child of type t spawned by parentID.
// IDs are stable across attempts so a retried parent finds the children
// it already submitted instead of creating new ones.
func ChildID(parentID string, t job.Type, n int) string {
	childID := parentID + "/" + string(t)
	if n > 0 {
		childID += "." + strconv.Itoa(n)
	}
	if len(childID) > maxJobIDLen {
		return ""
	}
	return childID
}

// Spawn submits recs as children of the running job.
//
// Children without an ID get one from ChildID. Children that already
// exist, because an earlier attempt submitted them, are kept as they are.
// Every remaining dependency is registered before the first child is
// submitted.
//
// When a child cannot be registered or submitted and the parent has
// attempts left, its edge stays open and the error is returned so the
// retry can finish the fan-out. On the last attempt the edge is released
// as a failed child, so the parent's set still drains exactly once.
func (inv *Invocation) Spawn(ctx context.Context, recs ...job.Record) ([]string, error) {
	if inv.submitter == nil || inv.tracker == nil {
		return nil, ErrUnbound
	}
	parent := inv.Job

	seen := make(map[job.Type]int, len(recs))
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = ChildID(parent.ID, recs[i].Type, seen[recs[i].Type])
			seen[recs[i].Type]++
		}
		if recs[i].ID == "" {
			recs[i].ID = id.NewJobID().String()
		}
		recs[i].ParentJobID = parent.ID
		if parent.Metadata.Track {
			recs[i].Metadata.Track = true
		}
	}

	ids := make([]string, 0, len(recs))
	pending := make([]job.Record, 0, len(recs))
	for _, rec := range recs {
		if inv.exists(ctx, rec.ID) {
			ids = append(ids, rec.ID)
			inv.children = append(inv.children, rec.ID)
			continue
		}
		pending = append(pending, rec)
	}

	for i, rec := range pending {
		if err := inv.tracker.AddDependency(ctx, parent.ID, rec.ID); err != nil {
			if inv.lastAttempt() {
				inv.release(ctx, pending[:i])
			}
			return ids, err
		}
	}

	var errs []error
	for _, rec := range pending {
		childID, err := inv.submitter.Submit(ctx, rec)
		if errors.Is(err, conductor.ErrJobAlreadyExists) {
			childID, err = rec.ID, nil
		}
		if err != nil {
			inv.logger.Warn("child submission failed",
				slog.String("job_id", rec.ID),
				slog.String("parent_job_id", parent.ID),
				slog.String("job_type", string(rec.Type)),
				slog.Bool("last_attempt", inv.lastAttempt()),
				slog.String("error", err.Error()),
			)
			if inv.lastAttempt() {
				inv.release(ctx, []job.Record{rec})
			}
			errs = append(errs, fmt.Errorf("spawn %s: %w", rec.Type, err))
			continue
		}
		ids = append(ids, childID)
		inv.children = append(inv.children, childID)
	}
	return ids, errors.Join(errs...)
}

// lastAttempt reports whether the running attempt is the job's final one.
func (inv *Invocation) lastAttempt() bool {
	return inv.Job.Attempts+1 >= inv.Job.MaxAttempts
}

// exists reports whether childID was already stored. Lookup errors count
// as absent; registering an existing edge is a no-op and a duplicate
// submit is caught by ErrJobAlreadyExists.
func (inv *Invocation) exists(ctx context.Context, childID string) bool {
	getter, ok := inv.submitter.(JobGetter)
	if !ok {
		return false
	}
	_, err := getter.GetJob(ctx, childID)
	return err == nil
}

// release reports never-submitted children as failed.
func (inv *Invocation) release(ctx context.Context, recs []job.Record) {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range recs {
		if err := inv.tracker.OnChildFailed(ctx, rec.ID); err != nil {
			inv.logger.Error("release child dependency",
				slog.String("job_id", rec.ID),
				slog.String("parent_job_id", inv.Job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
