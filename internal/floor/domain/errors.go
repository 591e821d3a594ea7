package domain

import "errors"

var (
	// ErrTransientNetwork marks a failed fetch or command; prior state is kept
	// and retrying is left to the caller.
	ErrTransientNetwork   = errors.New("transient network error")
	ErrStreamDisconnected = errors.New("event stream disconnected")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrMalformedEvent     = errors.New("malformed event")
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrOrphanedOrder      = errors.New("order references unknown table")

	ErrNoActiveSession  = errors.New("table has no active session")
	ErrUnknownTable     = errors.New("unknown table")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrDuplicateCommand = errors.New("duplicate command")
)
