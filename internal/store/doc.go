// Package store provides the SQLite-backed provenance log.
//
// Every committed epoch is one row in cycles, holding the full cycle record
// as JSON. Rows form a hash chain: each record_hash covers the previous
// row's hash, so rewriting any committed epoch breaks every hash after it.
// Tick records are also written to cycle_ticks for per-domain queries.
//
// # Critical Patterns
//
// Append-only:
//   - A (run, epoch) pair is written once; re-appending the same digest is
//     a no-op, a different digest is ErrConflict
//   - Within a run, epochs are strictly increasing
//
// Deterministic reads:
//   - All queries ORDER BY seq (append order)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
