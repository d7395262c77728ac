// Package warm is the overflow path behind the hot tick loop.
//
// The engine parks deltas it cannot finish within a tick (budget exceeded,
// assertion slot still occupied) into a Queue. A drainer takes them off at
// a bounded rate and hands them to a Handler, which decides what to do:
// split and resubmit, retry later, or drop.
package warm
