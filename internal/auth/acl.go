package auth

import "slices"

// TopicAllocation is one topic granted to a control unit.
type TopicAllocation struct {
	Topic string
	// Ingress topics are the ones the unit publishes to.
	Ingress bool
	// All grants both directions and takes precedence over Ingress.
	All bool
}

// ACL is the topic access list embedded in device tokens. The JSON shape
// is the one the broker's JWT authorizer reads.
type ACL struct {
	Pub []string `json:"pub"`
	Sub []string `json:"sub"`
	All []string `json:"all"`
}

// BuildACL assembles a unit's ACL from its topic allocations.
func BuildACL(allocs []TopicAllocation) (ACL, error) {
	if len(allocs) == 0 {
		return ACL{}, ErrNotProvisioned
	}

	acl := ACL{Pub: []string{}, Sub: []string{}, All: []string{}}
	for _, a := range allocs {
		switch {
		case a.All:
			acl.All = append(acl.All, a.Topic)
		case a.Ingress:
			acl.Pub = append(acl.Pub, a.Topic)
		default:
			acl.Sub = append(acl.Sub, a.Topic)
		}
	}
	return acl, nil
}

// CanPublish reports whether the ACL lets its holder publish to topic.
func (a ACL) CanPublish(topic string) bool {
	return slices.Contains(a.Pub, topic) || slices.Contains(a.All, topic)
}

// CanSubscribe reports whether the ACL lets its holder subscribe to topic.
func (a ACL) CanSubscribe(topic string) bool {
	return slices.Contains(a.Sub, topic) || slices.Contains(a.All, topic)
}

