package ledger

import (
	"errors"
	"fmt"
)

// ErrorClass classifies ledger failures for the caller's retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassLockTimeout indicates the writer could not acquire
	// the exclusive advisory lock within the configured bound. The
	// append did not happen; the caller may retry.
	ErrorClassLockTimeout ErrorClass = "lock_timeout"

	// ErrorClassIO indicates a filesystem failure (missing file,
	// permission denied, disk full). Fatal to the operation.
	ErrorClassIO ErrorClass = "io"

	// ErrorClassParse indicates one malformed record during a scan.
	// Never fatal: the line is skipped and the scan continues.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassSerialization indicates an envelope could not be
	// encoded before writing. A programming defect; fatal for that
	// append only.
	ErrorClassSerialization ErrorClass = "serialization"
)

// ErrLockTimeout is the sentinel matched by errors.Is for bounded
// lock-wait expiry.
var ErrLockTimeout = errors.New("ledger lock acquisition timed out")

// Error is a classified ledger failure.
type Error struct {
	// Class is the failure classification.
	Class ErrorClass

	// Op is the ledger operation that failed.
	Op string

	// Path is the backing file involved, if any.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ledger %s [%s] (path=%s): %v", e.Op, e.Class, e.Path, e.Err)
	}
	return fmt.Sprintf("ledger %s [%s]: %v", e.Op, e.Class, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newLockTimeoutError(op, path string) *Error {
	return &Error{Class: ErrorClassLockTimeout, Op: op, Path: path, Err: ErrLockTimeout}
}

func newIOError(op, path string, err error) *Error {
	return &Error{Class: ErrorClassIO, Op: op, Path: path, Err: err}
}

func newSerializationError(op string, err error) *Error {
	return &Error{Class: ErrorClassSerialization, Op: op, Err: err}
}
