// Package broker delivers device-bound messages to the MQTT broker.
//
// HTTPPublisher uses the broker's REST publish endpoint, which reports
// whether any client was subscribed. MQTTPublisher publishes over the
// gateway's own MQTT connection.
package broker
