package repositories

import "errors"

// Sentinel causes for counter allocation failures. Backends wrap these with
// counter-specific context; callers branch with errors.Is.
var (
	// ErrCounterInvalidInput indicates a malformed counter id or step.
	ErrCounterInvalidInput = errors.New("counter input invalid")
	// ErrCounterExhausted indicates a bounded counter reached its ceiling.
	ErrCounterExhausted = errors.New("counter exhausted")
)
