// Package direrr defines the error taxonomy shared by every discore
// package: the on-disk-format-agnostic error kinds a caller needs to
// branch on (corruption, missing extents, chain mismatches, ...) plus
// the retriable/non-retriable wrappers that classify who is expected to
// act on a failure.
package direrr

import (
	"errors"
	"fmt"
)

////////////////////////////////////////////////////////////////////////////////

// RetriableError marks a failure that a caller may reasonably retry
// (typically because the underlying host byte-stream reported a
// transient failure). discore itself never retries internally; retry is
// always the caller's decision.
type RetriableError struct {
	Err error
}

func NewRetriableError(err error) *RetriableError {
	return &RetriableError{Err: err}
}

func NewRetriableErrorf(format string, a ...any) *RetriableError {
	return NewRetriableError(fmt.Errorf(format, a...))
}

func (e *RetriableError) Error() string {
	return fmt.Sprintf("retriable error: %v", e.Err)
}

func (e *RetriableError) Unwrap() error {
	return e.Err
}

func (e *RetriableError) Is(target error) bool {
	t, ok := target.(*RetriableError)
	if !ok {
		return false
	}
	return t.Err == nil || t.Err == e.Err
}

////////////////////////////////////////////////////////////////////////////////

// NonRetriableError marks a failure that will recur on retry: a
// corrupted structure, an unsupported operation, a validation failure.
type NonRetriableError struct {
	Err error
}

func NewNonRetriableError(err error) *NonRetriableError {
	return &NonRetriableError{Err: err}
}

func NewNonRetriableErrorf(format string, a ...any) *NonRetriableError {
	return NewNonRetriableError(fmt.Errorf(format, a...))
}

func (e *NonRetriableError) Error() string {
	return fmt.Sprintf("non-retriable error: %v", e.Err)
}

func (e *NonRetriableError) Unwrap() error {
	return e.Err
}

func (e *NonRetriableError) Is(target error) bool {
	t, ok := target.(*NonRetriableError)
	if !ok {
		return false
	}
	return t.Err == nil || t.Err == e.Err
}

////////////////////////////////////////////////////////////////////////////////

// Retriable reports whether err (or anything it wraps) was explicitly
// marked retriable and nothing along the chain marked it non-retriable.
func Retriable(err error) bool {
	if err == nil {
		return false
	}

	var nonRetriable *NonRetriableError
	if errors.As(err, &nonRetriable) {
		return false
	}

	var retriable *RetriableError
	return errors.As(err, &retriable)
}

////////////////////////////////////////////////////////////////////////////////
// Kinds .

// ErrSliceTooShort: codec input slice smaller than the declared record size.
var ErrSliceTooShort = errors.New("slice too short")

// ErrWriteNotSupported: attempted to write a read-only on-disk record.
var ErrWriteNotSupported = errors.New("write not supported")

// ErrNotWritable: sparse stream does not support Write.
var ErrNotWritable = errors.New("stream is not writable")

// ErrNotResizable: sparse stream does not support SetLength.
var ErrNotResizable = errors.New("stream is not resizable")

// ErrNotSupported: operation unavailable on this layer.
var ErrNotSupported = errors.New("operation not supported")

// ErrCancelled: operation was cancelled via its context.
var ErrCancelled = errors.New("operation cancelled")

// ErrBeyondEOF: logical read past the last extent.
var ErrBeyondEOF = errors.New("logical position is beyond end of file")

////////////////////////////////////////////////////////////////////////////////

// CorruptError: a parsed structure violates a format invariant.
type CorruptError struct {
	Err error
}

func NewCorruptError(format string, a ...any) *CorruptError {
	return &CorruptError{Err: fmt.Errorf(format, a...)}
}

func (e *CorruptError) Error() string { return fmt.Sprintf("corrupt: %v", e.Err) }
func (e *CorruptError) Unwrap() error { return e.Err }

////////////////////////////////////////////////////////////////////////////////

// IOFailedError wraps a failure surfaced unchanged from the underlying
// host byte-stream, with just enough context attached to locate it.
type IOFailedError struct {
	Op  string
	Err error
}

func NewIOFailedError(op string, err error) *IOFailedError {
	return &IOFailedError{Op: op, Err: err}
}

func (e *IOFailedError) Error() string {
	return fmt.Sprintf("io failed during %s: %v", e.Op, e.Err)
}
func (e *IOFailedError) Unwrap() error { return e.Err }

////////////////////////////////////////////////////////////////////////////////

// ChainMismatchError: resolver found a parent whose unique_id disagrees
// with the child's recorded parent_unique_id.
type ChainMismatchError struct {
	Expected [16]byte
	Found    [16]byte
	Path     string
}

func NewChainMismatchError(expected, found [16]byte, path string) *ChainMismatchError {
	return &ChainMismatchError{Expected: expected, Found: found, Path: path}
}

func (e *ChainMismatchError) Error() string {
	return fmt.Sprintf(
		"chain mismatch at %q: expected parent %x, found %x",
		e.Path, e.Expected, e.Found,
	)
}

////////////////////////////////////////////////////////////////////////////////

// ParentNotFoundError: resolver exhausted all parent-location hints.
type ParentNotFoundError struct {
	For   string
	Tried []string
}

func NewParentNotFoundError(forPath string, tried []string) *ParentNotFoundError {
	return &ParentNotFoundError{For: forPath, Tried: tried}
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("parent not found for %q, tried %v", e.For, e.Tried)
}

////////////////////////////////////////////////////////////////////////////////

// MissingExtentError: spill lookup failed while total_blocks not reached.
type MissingExtentError struct {
	FileID     any
	BlocksSeen uint64
}

func NewMissingExtentError(fileID any, blocksSeen uint64) *MissingExtentError {
	return &MissingExtentError{FileID: fileID, BlocksSeen: blocksSeen}
}

func (e *MissingExtentError) Error() string {
	return fmt.Sprintf(
		"missing extent for file %v at block offset %d",
		e.FileID, e.BlocksSeen,
	)
}
