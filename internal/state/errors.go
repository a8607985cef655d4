package state

import "errors"

// Sentinel errors returned by store operations. Callers match these with
// errors.Is to distinguish rule violations from I/O failures.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyInitialized indicates the progress log has already been created.
	ErrAlreadyInitialized = errors.New("progress log already initialized")

	// ErrNotInitialized indicates the progress log has not been created yet.
	ErrNotInitialized = errors.New("progress log not initialized")

	// ErrAlreadyPassing indicates an attempt to mark a passing item as passing again.
	ErrAlreadyPassing = errors.New("item already marked passing")

	// ErrNotPassing indicates a failure report against an item that was never passing.
	ErrNotPassing = errors.New("item is not currently passing")

	// ErrEmptyReason indicates a failure report without a reason.
	ErrEmptyReason = errors.New("failure reason must not be empty")

	// ErrCheckedOut indicates the item is held by an unreleased checkout.
	ErrCheckedOut = errors.New("item is checked out")

	// ErrBatchSize indicates a checkout request outside the permitted batch size.
	ErrBatchSize = errors.New("invalid batch size")

	// ErrKindMismatch indicates a checkout mixing work item kinds.
	ErrKindMismatch = errors.New("batch items must share one kind")
)
