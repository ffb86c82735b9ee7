// Package store holds the composite persistence contract shared by the
// backends in its subpackages:
//
//   - store/memory: in-process maps behind a mutex, for tests and
//     single-process development
//   - store/redis: hashes plus per-queue sorted sets, claims and
//     dependency removal done in Lua scripts
//   - store/postgres: a jobs table claimed with FOR UPDATE SKIP LOCKED
//
// Every backend passes the same job, dependency and DLQ semantics; the
// engine only ever sees the Store interface.
package store
