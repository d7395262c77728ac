// Package beat drives the reconciliation clock.
//
// A Counter holds the global cycle: a monotonically increasing logical
// counter, incremented once per processed tick. The Scheduler is the only
// thing that advances it. Each Advance yields a Beat: the new cycle, its
// tick (cycle mod 8) and whether the tick wrapped to 0, which is the pulse
// that closes the previous epoch.
//
// CRITICAL PATTERNS:
//
// Logical clock: cycles never come from wall-clock time. A Counter can be
// resumed from a checkpoint with NewCounterAt, so replays see the same
// cycle numbers.
package beat
