// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, row-locked fan-in bookkeeping,
// embedded SQL migrations.
package postgres
