package domain

import "errors"

var (
	// ErrInvalidIdentifier indicates a path segment containing reserved
	// characters. Rejected before any network call.
	ErrInvalidIdentifier = errors.New("identifier contains reserved path characters")

	// ErrInvalidTarget indicates an operation aimed at an empty or missing user.
	ErrInvalidTarget = errors.New("invalid target user")

	// ErrInvalidState indicates an operation attempted without the session or
	// reference it requires, e.g. adding a set with no active session.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrPersistence wraps a failed store read or write.
	ErrPersistence = errors.New("persistence failure")

	// ErrDecoding indicates a stored value could not be interpreted as the
	// expected entity. Callers log and treat the value as absent.
	ErrDecoding = errors.New("stored value could not be decoded")
)
