// Package store defines the aggregate persistence interface. Each
// subsystem (job, dependency, dlq) defines its own store interface and a
// single backend implements all of them. Backends: Memory, Redis and
// Postgres.
package store

import (
	"context"

	"github.com/xraph/conductor/dependency"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/job"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	dependency.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
