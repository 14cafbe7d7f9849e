package transaction

import "errors"

// --- Error Definitions ---

var (
	// ErrDuplicateTransaction is returned by BeginTransaction when the id is already active.
	ErrDuplicateTransaction = errors.New("transaction already exists")
	// ErrUnknownTransaction is returned by Write, Commit and Rollback when the id is not active.
	ErrUnknownTransaction = errors.New("transaction does not exist")
)
