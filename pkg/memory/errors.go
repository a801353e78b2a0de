package memory

import "errors"

var (
	// ErrValidation marks a record that violates the store invariants:
	// importance out of [1,5], empty or out-of-vocabulary tags, unknown
	// type, or missing user/content.
	ErrValidation = errors.New("memory: invalid record")

	// ErrNotFound marks an id that does not exist (or is soft-deleted
	// where the operation excludes soft-deleted rows).
	ErrNotFound = errors.New("memory: record not found")
)
