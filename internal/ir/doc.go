// Package ir provides the data model shared by every stage of the
// reconciliation pipeline.
//
// This package contains type definitions and the pure algebra over them.
// All other internal packages import ir; ir imports nothing internal. This
// keeps the data model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - A Batch holds at most MaxLanes (8) rows in structure-of-arrays layout
//   - Identifier 0 is the unbound identifier; kernels treat it as absent
//   - Digests bind each row to its lane, so they are order-sensitive but
//     still fold with XOR, which makes Receipt merge exact
//   - Receipt merge (⊕) is associative and commutative with the zero
//     Receipt as identity
//   - Logical cycles only, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir
