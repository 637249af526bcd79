package database

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyIndex is returned when searching or matching against a store with no entries.
	ErrEmptyIndex = errors.New("no images have been indexed yet")

	// ErrIndexNotFound is returned by VectorIndex.Load when no artifact exists at the path.
	ErrIndexNotFound = errors.New("index artifact not found")

	// ErrMisaligned is returned when the persisted index and metadata disagree on
	// the number of entries and the recovery policy does not allow a repair.
	ErrMisaligned = errors.New("index and metadata are misaligned")

	// ErrNotNormalized is returned when an embedding is not unit length.
	ErrNotNormalized = errors.New("embedding is not L2-normalized")

	// ErrStoreSuspect is returned by Ingest after a failed persist until the store is reloaded.
	ErrStoreSuspect = errors.New("store state is suspect after a failed write, reload required")

	// ErrCorruptIndex is returned when an index artifact fails validation.
	ErrCorruptIndex = errors.New("index artifact is corrupt")
)

// DimensionMismatchError indicates that a vector width differs from the
// configured embedding dimension. When loading a persisted index this is a
// configuration problem that an operator has to resolve.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// PersistenceError wraps a failure while flushing the index and metadata artifacts.
type PersistenceError struct {
	Artifact string
	cause    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Artifact, e.cause)
}

func (e *PersistenceError) Unwrap() error { return e.cause }

func newPersistenceError(artifact string, err error) *PersistenceError {
	return &PersistenceError{Artifact: artifact, cause: err}
}
