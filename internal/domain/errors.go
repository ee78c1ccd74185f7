package domain

import "errors"

// Sentinel errors for the orchestrator's error taxonomy. None of these are
// fatal to the process; callers log and drop or fall back.
var (
	// ErrUnknownSession means a telephony event referenced an external
	// session with no owning call context. The event is logged and dropped.
	ErrUnknownSession = errors.New("unknown telephony session")

	// ErrUnknownCall means an operator operation referenced a call ID that
	// is not (or is no longer) registered.
	ErrUnknownCall = errors.New("unknown call")

	// ErrSessionExists means a call-started event arrived for a session that
	// already owns an active call context.
	ErrSessionExists = errors.New("session already active")

	// ErrStaleOperation means an operation was requested on a call that has
	// already completed. It is a typed result, not a failure.
	ErrStaleOperation = errors.New("operation on completed call")
)
