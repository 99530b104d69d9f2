package godup

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrMismatchedPool is raised when a buffer is returned to a pool that does not own it.
	ErrMismatchedPool = errors.New("buffer returned to mismatched pool")

	// ErrRefCountViolation is raised when a buffer's reference count leaves its valid range.
	ErrRefCountViolation = errors.New("buffer reference count violation")

	// ErrTransient marks an error as worth retrying. Wrap it to opt a custom
	// destination error into the retry path.
	ErrTransient = errors.New("transient i/o failure")

	// ErrAlreadyStarted is returned by Start on a multiplexer that already ran,
	// completed or was cancelled.
	ErrAlreadyStarted = fmt.Errorf("multiplexer already used: %w", errdefs.ErrFailedPrecondition)
)

// ReadError represents a failure reading from the source
type ReadError struct {
	Offset int64 // Source offset the read started at
	Err    error // Underlying error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read source at %d: %v", e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError represents a destination write that failed for good
type WriteError struct {
	Op          string // Operation that failed
	Destination int    // Index of the destination in the multiplexer
	Offset      int64  // Destination write position when known, bytes written otherwise
	Err         error  // Underlying error
	Attempts    int    // Number of attempts made
}

func (e *WriteError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s destination %d at %d: %v (after %d attempts)", e.Op, e.Destination, e.Offset, e.Err, e.Attempts)
	}
	return fmt.Sprintf("%s destination %d at %d: %v", e.Op, e.Destination, e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is worth retrying: it wraps ErrTransient,
// carries an error reporting Temporary() == true, or is a retryable errno.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	return isTransientErrno(err)
}
