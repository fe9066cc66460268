// Package mqtt provides the gateway's MQTT connection.
//
// The gateway talks to the same broker the control units connect to.
// It subscribes to ingress/+ and setup when direct ingress is enabled,
// and publishes device-bound messages to egress/{unit_id} when the MQTT
// egress transport is selected. A retained status message on
// gateway/{client_id}/status, backed by a last will, lets operators see
// whether the gateway is attached.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().IngressWildcard(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
