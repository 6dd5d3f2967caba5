package rag

import (
	"errors"
	"fmt"
)

// ErrNotIndexed is returned by query operations when nothing has been indexed.
var ErrNotIndexed = errors.New("no documents indexed yet")

// ErrNoSupportedFiles is returned when a directory exists but contains no
// files with a supported extension.
var ErrNoSupportedFiles = errors.New("no supported documents found")

// NotFoundError reports a source path that does not exist or has an
// unsupported extension. Never retried.
type NotFoundError struct {
	Path   string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Path)
	}
	return "path not found: " + e.Path
}

// StateError reports an index invariant violation detected before a persist.
// The save is aborted so a torn state is never written to the backing store.
type StateError struct {
	Documents int
	Vectors   int
	Indexed   int
}

func (e *StateError) Error() string {
	return fmt.Sprintf("index state mismatch: %d documents, %d vectors, %d indexed",
		e.Documents, e.Vectors, e.Indexed)
}
