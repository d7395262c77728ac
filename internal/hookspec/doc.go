// Package hookspec compiles CUE hook definitions into hook snapshots.
//
// A hook file looks like:
//
//	version: 3
//	hooks: {
//		"has-name": {id: 1, predicate: 100, kind: "exists"}
//		"adult":    {id: 2, predicate: 200, kind: "compare", op: "ge", threshold: 18}
//	}
//
// Sources are unified with an embedded schema (schema.cue) before decoding,
// so type and range errors carry CUE positions. Registry-level rules (one
// hook per predicate, unique IDs) are enforced by hooks.NewSnapshot.
package hookspec
