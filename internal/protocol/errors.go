package protocol

import "errors"

var (
	// ErrUnknownKind is returned for a missing or unrecognised message type,
	// or for a kind that is not valid in the direction being decoded.
	ErrUnknownKind = errors.New("protocol: unknown message kind")

	// ErrInvalidMessage is returned when a message body fails to decode or
	// violates its shape constraints.
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrInvalidAction is returned for an action outside the closed set.
	ErrInvalidAction = errors.New("protocol: invalid action")
)
