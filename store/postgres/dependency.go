package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor/dependency"
)

// AddDependency inserts childID into parentID's outstanding set.
func (s *Store) AddDependency(ctx context.Context, parentID, childID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conductor_dependency_parents (parent_id) VALUES ($1) ON CONFLICT (parent_id) DO NOTHING`,
			parentID,
		); err != nil {
			return fmt.Errorf("conductor/postgres: add dependency parent: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conductor_dependencies (child_id, parent_id) VALUES ($1, $2) ON CONFLICT (child_id) DO NOTHING`,
			childID, parentID,
		); err != nil {
			return fmt.Errorf("conductor/postgres: add dependency: %w", err)
		}
		return nil
	})
}

// RemoveDependency removes childID from its parent's set. The parent
// row is locked for the whole transaction so sibling removals run one
// at a time and exactly one of them observes the empty set.
func (s *Store) RemoveDependency(ctx context.Context, childID string, failed bool) (dependency.Removal, error) {
	var out dependency.Removal

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var parentID string
		err := tx.QueryRow(ctx,
			`SELECT parent_id FROM conductor_dependencies WHERE child_id = $1`,
			childID,
		).Scan(&parentID)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return fmt.Errorf("conductor/postgres: lookup dependency: %w", err)
		}

		var failedCount int
		err = tx.QueryRow(ctx,
			`SELECT failed FROM conductor_dependency_parents WHERE parent_id = $1 FOR UPDATE`,
			parentID,
		).Scan(&failedCount)
		if err != nil {
			if isNoRows(err) {
				out.ParentID = parentID
				return nil
			}
			return fmt.Errorf("conductor/postgres: lock dependency parent: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM conductor_dependencies WHERE child_id = $1`, childID)
		if err != nil {
			return fmt.Errorf("conductor/postgres: remove dependency: %w", err)
		}
		out.ParentID = parentID
		if tag.RowsAffected() == 0 {
			// A concurrent removal of the same child won the race.
			return nil
		}

		if failed {
			if err := tx.QueryRow(ctx,
				`UPDATE conductor_dependency_parents SET failed = failed + 1 WHERE parent_id = $1 RETURNING failed`,
				parentID,
			).Scan(&failedCount); err != nil {
				return fmt.Errorf("conductor/postgres: count failed child: %w", err)
			}
		}

		var remaining int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM conductor_dependencies WHERE parent_id = $1`,
			parentID,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("conductor/postgres: count dependencies: %w", err)
		}
		if remaining > 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM conductor_dependency_parents WHERE parent_id = $1`, parentID); err != nil {
			return fmt.Errorf("conductor/postgres: drop dependency parent: %w", err)
		}
		out.Drained = true
		out.FailedChildren = failedCount
		return nil
	})
	if err != nil {
		return dependency.Removal{}, err
	}
	return out, nil
}

// PendingChildren returns the outstanding children of parentID, sorted.
func (s *Store) PendingChildren(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT child_id FROM conductor_dependencies WHERE parent_id = $1 ORDER BY child_id`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: pending children: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan child: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate children: %w", err)
	}
	return out, nil
}

// CountParents returns how many parents have outstanding children.
func (s *Store) CountParents(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conductor_dependency_parents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("conductor/postgres: count parents: %w", err)
	}
	return count, nil
}
