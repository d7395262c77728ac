package reconcile

import (
	"errors"
	"fmt"

	"github.com/roach88/knhk/internal/ir"
)

// ErrorCode categorizes reconciliation errors.
type ErrorCode string

const (
	// ErrCodeInvalidBatchBounds indicates the delta exceeds the 8-lane frame.
	// Recoverable: no state was touched.
	ErrCodeInvalidBatchBounds ErrorCode = "INVALID_BATCH_BOUNDS"

	// ErrCodeNoHookRegistered indicates a row whose predicate has no hook.
	// Recoverable: register the hook or drop the row.
	ErrCodeNoHookRegistered ErrorCode = "NO_HOOK_REGISTERED"

	// ErrCodeProvenanceMismatch indicates the emitted actions do not hash to
	// the rows they claim to come from. Fatal: alert, never retry.
	ErrCodeProvenanceMismatch ErrorCode = "PROVENANCE_MISMATCH"
)

// Error is a reconciliation failure. Parking is not an error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Row and Predicate identify the offending row (NoHookRegistered).
	Row       int
	Predicate uint64

	// Expected and Actual are the delta and action digests (ProvenanceMismatch).
	Expected ir.Digest
	Actual   ir.Digest

	// Cycle is the stamp the reconciliation ran under.
	Cycle uint64

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNoHookRegistered:
		return fmt.Sprintf("%s: %s (row=%d, predicate=%d)", e.Code, e.Message, e.Row, e.Predicate)
	case ErrCodeProvenanceMismatch:
		return fmt.Sprintf("%s: %s (cycle=%d, expected=%s, actual=%s)", e.Code, e.Message, e.Cycle, e.Expected.Short(), e.Actual.Short())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Fatal reports whether the error indicates a broken integrity guarantee.
func (e *Error) Fatal() bool {
	return e.Code == ErrCodeProvenanceMismatch
}

// IsBoundsError returns true if err is an InvalidBatchBounds error.
func IsBoundsError(err error) bool {
	return hasCode(err, ErrCodeInvalidBatchBounds)
}

// IsNoHookError returns true if err is a NoHookRegistered error.
func IsNoHookError(err error) bool {
	return hasCode(err, ErrCodeNoHookRegistered)
}

// IsProvenanceMismatch returns true if err is a ProvenanceMismatch error.
func IsProvenanceMismatch(err error) bool {
	return hasCode(err, ErrCodeProvenanceMismatch)
}

func hasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newBoundsError(cause error) *Error {
	return &Error{
		Code:    ErrCodeInvalidBatchBounds,
		Message: cause.Error(),
		err:     cause,
	}
}

func newNoHookError(row int, predicate, cycle uint64) *Error {
	return &Error{
		Code:      ErrCodeNoHookRegistered,
		Message:   "no hook registered for predicate",
		Row:       row,
		Predicate: predicate,
		Cycle:     cycle,
	}
}

func newProvenanceError(cycle uint64, expected, actual ir.Digest) *Error {
	return &Error{
		Code:     ErrCodeProvenanceMismatch,
		Message:  "action digest does not match delta digest",
		Expected: expected,
		Actual:   actual,
		Cycle:    cycle,
	}
}
