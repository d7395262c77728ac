// Package reconcile implements μ, the pure function that turns a delta
// batch into actions and a receipt.
//
// Reconcile resolves every row's hook against one registry snapshot, groups
// rows that share a hook, dispatches each group's kernel once in order of
// first appearance, and charges the kernel's cost against a tick budget. If
// the running cost would exceed the budget the delta is parked, not
// reconciled: no actions and no receipt. Otherwise the satisfied rows become
// actions in row order and the action digest is checked against the digest
// of the same rows of the delta before a receipt is issued.
//
// CRITICAL PATTERNS:
//
// Determinism: the result depends only on the delta, the snapshot, the
// budget and the stamp. No clocks, no randomness, no I/O.
//
// Provenance: digest(actions) must equal digest(delta rows they came from).
// A mismatch is an integrity failure (ProvenanceMismatch), never retried.
//
// Holes: rows whose predicate is 0 are skipped; they have no hook and are
// never satisfied.
package reconcile
