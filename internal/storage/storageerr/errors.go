// Package storageerr defines the sentinel error taxonomy shared by every
// storage-core layer (disk manager, buffer pool, heap, B+Tree, catalog).
// Lower layers never log; they return one of these kinds, wrapped with
// %w and call-site detail. Callers compare with errors.Is.
package storageerr

import "errors"

var (
	// ErrIOError is a disk read/write or file-open failure. The engine
	// enters a read-only degraded state until reopened.
	ErrIOError = errors.New("io error")

	// ErrInvalidPage is a programmer error: reading or addressing a page
	// that was never allocated. The current operation is aborted without
	// mutating state.
	ErrInvalidPage = errors.New("invalid page")

	// ErrDoubleUnpin is a programmer error: a frame's pin count would go
	// negative.
	ErrDoubleUnpin = errors.New("double unpin")

	// ErrInvariantViolation covers programmer errors not otherwise named
	// here (e.g. a B+Tree node observed in an impossible state).
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrOutOfFrames is a back-pressure signal: the buffer pool is
	// saturated and every frame is pinned. Retryable after the caller
	// releases pins.
	ErrOutOfFrames = errors.New("out of frames")

	// ErrDuplicateKey is returned by a unique index's insert when the key
	// is already present. The tree is left unmutated.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned by lookups and deletes that find no match.
	ErrNotFound = errors.New("not found")

	// ErrSchemaViolation covers type/length mismatches, a null in a
	// non-null column, and invalid schema definitions. A duplicate
	// primary key is reported as ErrDuplicateKey, not as this kind.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrCorruption is fatal for the table or index involved: bad magic,
	// checksum mismatch, or an impossible slot offset.
	ErrCorruption = errors.New("corruption")

	// ErrDegraded is returned by a mutating engine operation once an
	// earlier ErrIOError has forced the engine into its read-only
	// degraded state. Clears only on a fresh Open.
	ErrDegraded = errors.New("engine degraded")
)
