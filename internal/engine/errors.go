package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDomain is returned for a domain index outside the engine's range.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrCycleOutOfWindow is returned by Enqueue for a cycle tag that is not
	// one of the next eight cycles the beat will issue.
	ErrCycleOutOfWindow = errors.New("cycle outside the upcoming epoch window")

	// ErrCycleMismatch rejects a delta whose cycle tag is not the cycle the
	// beat is running. It happens when a producer races the beat past the
	// cycle it targeted.
	ErrCycleMismatch = errors.New("cycle tag does not match the beat")
)

// CommitStage names the part of a commit that failed.
type CommitStage string

const (
	// StageSeal: the drained tick records could not be folded into a
	// cycle record (for example overlapping lanes).
	StageSeal CommitStage = "seal"

	// StageAppend: the provenance log rejected the record.
	StageAppend CommitStage = "append"

	// StageEmit: the action emitter failed after the record was appended.
	StageEmit CommitStage = "emit"
)

// CommitError is a failed epoch commit. It stops Run: the engine cannot
// prove the epoch it just closed.
type CommitError struct {
	Epoch uint64
	Stage CommitStage
	Err   error
}

// Error implements the error interface.
func (e *CommitError) Error() string {
	return fmt.Sprintf("commit epoch %d: %s: %v", e.Epoch, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsCommitError reports whether err is or wraps a *CommitError.
func IsCommitError(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
