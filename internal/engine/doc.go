// Package engine runs the epoch beat.
//
// Every Step advances the cycle counter by one tick. Each reconciliation
// domain owns a ring pair (delta ring and assertion ring, eight slots each);
// shard fibers take the delta for the current tick, reconcile it against the
// hook snapshot loaded at the start of the tick, and write actions and
// receipt to the assertion slot of the same tick.
//
// ARCHITECTURE:
//
// Beat and Pulse:
// The cycle counter is the only clock. Tick = cycle mod 8; the first tick of
// every epoch is a pulse. On a pulse, before any fiber runs, the engine
// drains all assertion rings and commits the epoch that just closed:
//
//  1. Fold tick records into per-domain receipts (ir.NewCycleRecord)
//  2. Append the record to the provenance log
//  3. Emit the committed actions
//
// A failed commit stops Run.
//
// Shards:
// Domain d at tick t runs on shard (d + t) mod shards. Shards run
// concurrently; within a shard, domains run in index order.
//
// Overflow:
// Deltas that would exceed the tick budget, or whose assertion slot is still
// occupied, are parked to the OverflowSink. Nothing parked is lost and
// nothing parked produces a receipt.
//
// Replay:
// Committed tick records carry the delta that produced them. Replay
// recomputes every tick and reports any divergence.
package engine
