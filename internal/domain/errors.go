package domain

import "errors"

var (
	// ErrUnauthorizedRole rejects a connect with a missing or unknown
	// role claim. Fatal to the connection attempt.
	ErrUnauthorizedRole = errors.New("unauthorized role")

	// ErrNotFound is returned when a principal or conversation lookup
	// misses.
	ErrNotFound = errors.New("not found")

	// ErrDestinationOffline is not fatal: the message is still stored,
	// marked undelivered, and picked up via history later.
	ErrDestinationOffline = errors.New("destination offline")

	// ErrTransportFailure means the push attempt errored or timed out.
	// The message is marked failed and never retried automatically.
	ErrTransportFailure = errors.New("transport failure")

	// ErrDuplicateSequence signals a broken append invariant. It should
	// never occur under single-writer-per-key discipline; when it does
	// the append is refused, never silently overwritten.
	ErrDuplicateSequence = errors.New("duplicate sequence")

	// ErrHubClosed is returned for operations after shutdown.
	ErrHubClosed = errors.New("hub closed")
)
