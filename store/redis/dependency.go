package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/conductor/dependency"
)

// AddDependency inserts childID into parentID's outstanding set.
func (s *Store) AddDependency(ctx context.Context, parentID, childID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, depsKey(parentID), childID)
	pipe.HSet(ctx, parentOfKey, childID, parentID)
	pipe.SAdd(ctx, parentsKey, parentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: add dependency: %w", err)
	}
	return nil
}

// RemoveDependency removes childID from its parent's set atomically.
func (s *Store) RemoveDependency(ctx context.Context, childID string, failed bool) (dependency.Removal, error) {
	flag := "0"
	if failed {
		flag = "1"
	}
	res, err := removeDependencyScript.Run(ctx, s.client,
		[]string{parentOfKey, parentsKey},
		childID, flag, depsKeyPrefix, depsFailedKeyPrefix,
	).Slice()
	if err != nil {
		return dependency.Removal{}, fmt.Errorf("conductor/redis: remove dependency: %w", err)
	}
	if len(res) != 3 {
		return dependency.Removal{}, fmt.Errorf("conductor/redis: remove dependency: unexpected reply %v", res)
	}

	parentID, _ := res[0].(string) //nolint:errcheck // script returns a string
	drained, _ := res[1].(int64)   //nolint:errcheck // script returns an integer
	failedN, _ := res[2].(int64)   //nolint:errcheck // script returns an integer
	return dependency.Removal{
		ParentID:       parentID,
		Drained:        drained == 1,
		FailedChildren: int(failedN),
	}, nil
}

// PendingChildren returns the outstanding children of parentID, sorted.
func (s *Store) PendingChildren(ctx context.Context, parentID string) ([]string, error) {
	children, err := s.client.SMembers(ctx, depsKey(parentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: pending children: %w", err)
	}
	sort.Strings(children)
	return children, nil
}

// CountParents returns how many parents have outstanding children.
func (s *Store) CountParents(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, parentsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conductor/redis: count parents: %w", err)
	}
	return n, nil
}
