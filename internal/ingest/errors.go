package ingest

import "fmt"

// ValidationError marks malformed input rejected before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "ingest: validation: " + e.Reason
}

// DuplicateError signals that the uploaded content already exists for this
// user. It is a short-circuit, not a failure: the pipeline returns the
// existing record alongside it and callers treat it as success.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ingest: duplicate content, existing record %s", e.ExistingID)
}

// PersistenceError wraps a store write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ingest: persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
