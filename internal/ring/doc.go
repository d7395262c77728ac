// Package ring implements the tick ring pair: two fixed 8-slot rings, one
// for incoming deltas and one for outgoing assertions, indexed by tick.
//
// Each slot is an independent state machine driven by atomic
// compare-and-swap on its state word, so producers, the fiber and the cycle
// commit never share a lock. Slots are padded to separate cache lines.
//
//	delta slot:      EMPTY → FILLED → EXECUTING → EMPTY
//	assertion slot:  EMPTY → COMMITTED → DRAINED → EMPTY
//
// A full slot rejects Enqueue with ErrSlotBusy; the ring never waits.
// Bounded retry is available through EnqueueRetry.
package ring
