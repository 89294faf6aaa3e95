package channel

import "errors"

// Domain-specific errors for channel operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when a connection attempt fails
	// before the transport reports open.
	ErrConnectionFailed = errors.New("channel: connection failed")

	// ErrAlreadyConnected is returned by Connect when a live connection
	// already exists.
	ErrAlreadyConnected = errors.New("channel: already connected")

	// ErrMalformedMessage marks an inbound frame that could not be parsed.
	// Such frames are dropped and logged; they never reach listeners.
	ErrMalformedMessage = errors.New("channel: malformed message")

	// ErrUnknownMessageType marks an inbound frame with a type outside
	// the known set.
	ErrUnknownMessageType = errors.New("channel: unknown message type")
)
