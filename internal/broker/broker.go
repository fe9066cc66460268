package broker

import (
	"context"
	"errors"
)

var (
	// ErrBadRequest is returned when the broker rejects the publish request.
	ErrBadRequest = errors.New("broker: bad publish request")

	// ErrDeliveryFailed is returned for transport errors and unexpected
	// broker responses.
	ErrDeliveryFailed = errors.New("broker: delivery failed")
)

// Status is the outcome of an accepted publish.
type Status int

const (
	// StatusDelivered means the broker routed the message to at least one
	// subscriber, or the transport cannot tell.
	StatusDelivered Status = iota + 1

	// StatusNoSubscribers means the broker accepted the message but no
	// client was subscribed. The unit is offline; this is not a failure.
	StatusNoSubscribers
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusNoSubscribers:
		return "no_subscribers"
	default:
		return "unknown"
	}
}

// Message is one device-bound publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Publisher delivers egress messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (Status, error)
}
