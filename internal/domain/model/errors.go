package model

import "errors"

// Engine error taxonomy. Transport failures surface through these plus the
// connection's OnError listener callback; routing failures are structured
// results, not errors (see routing.RouteStatus).
var (
	// ErrConnectionTimeout is returned when the open handshake does not
	// complete within the configured connection timeout.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrNotConnected is returned by send operations while the connection
	// is in any state other than connected.
	ErrNotConnected = errors.New("not connected")

	// ErrCapacityExceeded is returned when the process-wide connection
	// limit is reached and idle cleanup cannot free a slot.
	ErrCapacityExceeded = errors.New("connection capacity exceeded")

	// ErrSerialization wraps wire codec failures.
	ErrSerialization = errors.New("serialization failure")

	// ErrInvalidMessage marks a Message failing the id/type/feature invariant.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrAlreadyClosed is returned when operating on a disposed connection.
	ErrAlreadyClosed = errors.New("connection already closed")
)
