package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is the decompressed wire form shared by both directions.
//
// Data carries the kind-specific body. Devices send it as a JSON string
// holding the encoded body; an inline JSON object is accepted as well.
type Message struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Body is implemented by every egress message body.
type Body interface {
	Kind() Kind
	Validate() error
}

// Ingress is implemented by every decoded ingress message.
type Ingress interface {
	Kind() Kind
}

// EncodeEgress validates body and returns the wire form of its message.
// The body is embedded in data as a JSON string.
func EncodeEgress(body Body) ([]byte, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: nil body", ErrInvalidMessage)
	}
	if !body.Kind().IsEgress() {
		return nil, fmt.Errorf("%w: %q is not an egress kind", ErrUnknownKind, body.Kind())
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}

	inner, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", body.Kind(), err)
	}
	data, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("encoding %s data: %w", body.Kind(), err)
	}

	return json.Marshal(Message{Type: body.Kind(), Data: data})
}

// DecodeIngress parses a decompressed device message into its typed form.
func DecodeIngress(raw []byte) (Ingress, error) {
	msg, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	switch msg.Type {
	case KindReading:
		var r ReadingReport
		if err := decodeBody(msg.Type, body, &r, false); err != nil {
			return nil, err
		}
		return &r, nil
	case KindSetup:
		var s SetupRequest
		if err := decodeBody(msg.Type, body, &s, false); err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return &s, nil
	case KindUpdate:
		var u UpdateRequest
		if len(body) > 0 {
			if err := decodeBody(msg.Type, body, &u, false); err != nil {
				return nil, err
			}
		}
		return &u, nil
	}

	return nil, fmt.Errorf("%w: %q is not an ingress kind", ErrUnknownKind, msg.Type)
}

// DecodeEgress parses an egress message into its typed body. The gateway
// only encodes egress messages; decoding exists for tooling and tests.
func DecodeEgress(raw []byte) (Body, error) {
	msg, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	var out Body
	switch msg.Type {
	case KindRules:
		out = &RuleSet{}
	case KindCommand:
		out = &Command{}
	case KindSchedule:
		out = &Schedule{}
	case KindParameters:
		out = &Parameters{}
	case KindTOUSchedule:
		out = &TariffSchedule{}
	default:
		return nil, fmt.Errorf("%w: %q is not an egress kind", ErrUnknownKind, msg.Type)
	}

	if err := decodeBody(msg.Type, body, out, true); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// split decodes the outer message and unwraps a string-encoded body.
func split(raw []byte) (Message, []byte, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return Message{}, nil, fmt.Errorf("%w: missing type", ErrUnknownKind)
	}

	body := bytes.TrimSpace(msg.Data)
	if bytes.Equal(body, []byte("null")) {
		body = nil
	}
	if len(body) > 0 && body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return Message{}, nil, fmt.Errorf("%w: data: %v", ErrInvalidMessage, err)
		}
		body = bytes.TrimSpace([]byte(s))
	}
	return msg, body, nil
}

// decodeBody decodes one message body. Strict decoding rejects unknown
// fields; ingress bodies are decoded leniently so newer firmware can add
// fields without being dropped.
func decodeBody(kind Kind, body []byte, v any, strict bool) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: %s message has no data", ErrInvalidMessage, kind)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrInvalidMessage, kind, err)
	}
	return nil
}
