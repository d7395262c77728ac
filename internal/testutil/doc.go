// Package testutil holds fixtures shared by package tests: hook and
// snapshot builders, batches, reconciled tick and cycle records, beat
// counters positioned at a given tick, and a fixed run ID.
//
// Everything here fails the test through require rather than returning
// errors, so fixtures read as one line at the call site.
package testutil
