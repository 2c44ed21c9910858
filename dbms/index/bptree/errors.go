package bptree

import "github.com/cockroachdb/errors"

// Error classes. Concrete errors wrap one of these, so callers test with
// errors.Is.
var (
	// ErrFormatMismatch means the file was written with another layout,
	// format version or a larger page size than the storage offers.
	ErrFormatMismatch = errors.New("bptree: format mismatch")
	// ErrCorruption means a consistent read found a broken structure.
	ErrCorruption = errors.New("bptree: corruption")
	// ErrWriterBusy means the single writer is already taken.
	ErrWriterBusy = errors.New("bptree: writer already acquired")
	// ErrWriterReleased means a writer was released twice or used after release.
	ErrWriterReleased = errors.New("bptree: writer already released")
	// ErrCapacity means the page and entry sizes give node capacities the
	// node layout cannot represent.
	ErrCapacity = errors.New("bptree: node capacity out of range")
	// ErrClosed means the index was closed.
	ErrClosed = errors.New("bptree: index closed")
)

// Pointer pair decode failures. Preallocated, they sit on the read path.
var (
	errPairNoValidSlot    = errors.Wrap(ErrCorruption, "pointer pair has no valid slot")
	errPairSameGeneration = errors.Wrap(ErrCorruption, "pointer pair slots share a generation")
	errPairWrite          = errors.Wrap(ErrCorruption, "no pointer pair slot may be overwritten")
)

func corruptionf(format string, args ...any) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

func formatMismatchf(format string, args ...any) error {
	return errors.Wrapf(ErrFormatMismatch, format, args...)
}

func capacityf(format string, args ...any) error {
	return errors.Wrapf(ErrCapacity, format, args...)
}
