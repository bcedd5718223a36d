package engine

import "fmt"

// ValidationError reports a malformed request shape (missing text, wrong
// types). It aborts only the single request or batch item that carried it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: field %q %s", e.Field, e.Reason)
}

// UpstreamError wraps a failure of the entity-recognition collaborator. In
// batch mode it is captured per item, never propagated to the batch.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("entity recognizer failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
