package testutil

// FixedRunID generates the same run ID every time.
//
// Unlike engine.FixedGenerator which returns IDs in sequence, this generator
// always returns the same ID, so every engine built with it stamps identical
// cycle records.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID string

// DefaultRunID is used when a FixedRunID is empty.
const DefaultRunID = "test-run-default"

// Generate returns the fixed run ID.
func (id FixedRunID) Generate() string {
	if id == "" {
		return DefaultRunID
	}
	return string(id)
}
