// Package store provides SQLite-backed durable storage for canvas rooms.
//
// Two tables are kept per database:
//   - snapshots: named copies of a room's graph, served as a
//     snapshot.Service
//   - updates: the room's replicated update log, replayed on startup
//
// # Critical Patterns
//
// Idempotent writes
//   - UNIQUE(room, actor, seq) on updates with ON CONFLICT DO NOTHING
//   - Re-delivered updates never duplicate log rows
//
// Deterministic query results
//   - Update reads use ORDER BY pos ASC (local application order)
//   - Snapshot lists use ORDER BY created_at DESC, id DESC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Update digests are computed via internal/ir/hash.go.
package store
