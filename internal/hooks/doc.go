// Package hooks maps predicates to the kernel that reconciles them.
//
// A Snapshot is an immutable set of hooks, at most one per predicate. The
// Registry publishes the current Snapshot behind an atomic pointer: readers
// load it without locks and keep using the snapshot they loaded even if a
// writer swaps in a new one mid-reconciliation.
//
// Registration is control-plane work; lookups are on the hot path.
package hooks
