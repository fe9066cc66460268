package broker

import (
	"context"
	"fmt"
)

// MQTTClient is the subset of the gateway's MQTT client used for egress.
type MQTTClient interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// MQTTPublisher publishes over the gateway's own broker connection. MQTT
// does not report whether anyone was subscribed, so success is always
// StatusDelivered.
type MQTTPublisher struct {
	client MQTTClient
}

// NewMQTTPublisher wraps client.
func NewMQTTPublisher(client MQTTClient) *MQTTPublisher {
	return &MQTTPublisher{client: client}
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) (Status, error) {
	if err := p.client.Publish(ctx, msg.Topic, msg.Payload, msg.QoS, msg.Retain); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return StatusDelivered, nil
}
