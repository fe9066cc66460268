package mqtt

import "strings"

// Default topic roots shared with the control unit firmware.
const (
	DefaultIngressRoot = "ingress"
	DefaultEgressRoot  = "egress"
	DefaultSetupTopic  = "setup"
	gatewayStatusRoot  = "gateway"
)

// Topics builds the gateway's topic names. The zero value uses the
// default roots.
//
//	topics := mqtt.Topics{}
//	topics.Egress("unit-7") // "egress/unit-7"
type Topics struct {
	// Prefix is prepended to every topic, e.g. "site-a/".
	Prefix string
}

// Ingress returns the topic a unit publishes telemetry and requests on.
func (t Topics) Ingress(unitID string) string {
	return t.Prefix + DefaultIngressRoot + "/" + unitID
}

// IngressWildcard matches every unit's ingress topic.
func (t Topics) IngressWildcard() string {
	return t.Prefix + DefaultIngressRoot + "/+"
}

// Egress returns the topic a unit subscribes to for commands.
func (t Topics) Egress(unitID string) string {
	return t.Prefix + DefaultEgressRoot + "/" + unitID
}

// Setup is the shared topic new units publish setup requests on.
func (t Topics) Setup() string {
	return t.Prefix + DefaultSetupTopic
}

// GatewayStatus carries the gateway's retained online/offline status.
func (t Topics) GatewayStatus(clientID string) string {
	return t.Prefix + gatewayStatusRoot + "/" + clientID + "/status"
}

// UnitFromIngress extracts the unit ID from an ingress topic. It reports
// false for any other topic.
func (t Topics) UnitFromIngress(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+DefaultIngressRoot+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// IsSetup reports whether topic is the setup topic.
func (t Topics) IsSetup(topic string) bool {
	return topic == t.Setup()
}
