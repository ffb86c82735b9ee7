package dependency

import "context"

// Removal describes the effect of removing a child edge.
type Removal struct {
	// ParentID is the parent the child belonged to. Empty if the child
	// was unknown.
	ParentID string
	// Drained is true for exactly one removal per parent: the one that
	// emptied its outstanding set and deleted the entry.
	Drained bool
	// FailedChildren counts children of ParentID that ended failed,
	// including this one. Only meaningful when Drained is true.
	FailedChildren int
}

// Store defines the persistence contract for dependency edges. Every
// method must be atomic with respect to concurrent callers.
type Store interface {
	// AddDependency inserts childID into parentID's outstanding set,
	// creating the set if absent. Adding an existing edge is a no-op.
	AddDependency(ctx context.Context, parentID, childID string) error

	// RemoveDependency removes childID from its parent's set. Removing an
	// unknown child returns a zero Removal and no error.
	RemoveDependency(ctx context.Context, childID string, failed bool) (Removal, error)

	// PendingChildren returns the outstanding children of parentID.
	PendingChildren(ctx context.Context, parentID string) ([]string, error)

	// CountParents returns how many parents have outstanding children.
	CountParents(ctx context.Context) (int64, error)
}
