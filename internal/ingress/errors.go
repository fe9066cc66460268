package ingress

import "errors"

var (
	// ErrInvalidPayload is returned when the webhook data field is not an
	// envelope.
	ErrInvalidPayload = errors.New("ingress: invalid payload")

	// ErrUnknownUnit is returned when neither the topic nor the client ID
	// identifies a control unit.
	ErrUnknownUnit = errors.New("ingress: cannot identify unit")

	// ErrNoDispatcher is returned when handling before SetDispatcher.
	ErrNoDispatcher = errors.New("ingress: dispatcher not set")

	// ErrBacklogFull is returned when the subscriber backlog cannot take
	// another decompressed message.
	ErrBacklogFull = errors.New("ingress: backlog full")
)
