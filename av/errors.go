package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Call lookup errors.
var (
	// ErrCallNotFound indicates no call is registered under the call id.
	ErrCallNotFound = errors.New("call not found")

	// ErrCallAlreadyActive indicates media was already announced for the call.
	ErrCallAlreadyActive = errors.New("call already active")
)

// State machine errors.
var (
	// ErrInvalidTransition indicates an invalid state transition.
	ErrInvalidTransition = errors.New("invalid state transition")
)
