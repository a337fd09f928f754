package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldNotFound means no record in the file matched a FieldSpec.
	ErrFieldNotFound = errors.New("field not found")
	// ErrEmptyWindow means a field has no grid points inside the bounding box.
	ErrEmptyWindow = errors.New("no grid points inside bounding box")

	ErrNoUsableFields   = errors.New("no usable fields")
	ErrNoTimeCoordinate = errors.New("no time coordinate")
	ErrGridMismatch     = errors.New("grid mismatch")
	ErrNoValidFrames    = errors.New("no valid frames")

	// ErrSourceMismatch means a request names a source the engine is not
	// configured for.
	ErrSourceMismatch = errors.New("source not served by this engine")

	// ErrSchemaMismatch means an existing store cannot accept the cycle's grid.
	ErrSchemaMismatch = errors.New("store schema mismatch")
)

// MergeError reports why one source file could not be merged into a frame.
type MergeError struct {
	File   string
	Err    error
	Detail string
}

func (e *MergeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("merge %s: %v: %s", e.File, e.Err, e.Detail)
	}
	return fmt.Sprintf("merge %s: %v", e.File, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// StoreError wraps a failed write to a cycle store.
type StoreError struct {
	Target string
	Op     string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
