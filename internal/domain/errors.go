package domain

import "errors"

// Common errors
var (
	// ErrInvalidSettings is returned when a settings snapshot fails validation
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrAlreadyRunning is returned when a batch is denied the execution lock.
	// Lock contention is a defined outcome, not a failure.
	ErrAlreadyRunning = errors.New("batch already running")

	// ErrNotFound is returned when a referenced item no longer exists
	ErrNotFound = errors.New("item not found")

	// ErrRateLimited is returned when an external trigger exceeds its window
	ErrRateLimited = errors.New("rate limit exceeded")
)
