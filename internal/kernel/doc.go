// Package kernel implements the fixed set of branchless evaluators that
// decide, per row, whether a delta row satisfies its hook.
//
// Every kernel reads all 8 lanes of a Batch unconditionally and ANDs the
// result with the group mask and the batch's occupied rows. Comparisons are
// arithmetic (math/bits borrow and zero tests) and a comparison operator is
// chosen by indexing a result array. The instruction path therefore depends
// only on the kernel kind, never on the data.
//
// CRITICAL PATTERNS:
//
// Indexed dispatch: Dispatch indexes a [NumKinds]handler table. Kinds and
// operators are validated when a hook is registered (Params.Validate); the
// hot path never checks them again.
//
// Fixed cost: each kind has a constant tick cost (Cost). The reconciler
// charges it once per hook group regardless of how many rows are in the group.
package kernel
