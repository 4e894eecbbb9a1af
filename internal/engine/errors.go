package engine

import "errors"

var (
	// ErrNotFound is returned for a subject id the current generation
	// does not know. Callers translate it into an empty result, never a
	// hard failure.
	ErrNotFound = errors.New("subject not found")

	// ErrNoGeneration is returned before the first successful rebuild.
	ErrNoGeneration = errors.New("no generation published yet")

	// ErrRebuildInProgress signals a duplicate rebuild trigger that was
	// collapsed into the in-flight one.
	ErrRebuildInProgress = errors.New("rebuild already in progress")
)
