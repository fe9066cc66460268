package codec

import (
	"encoding/json"
	"fmt"
)

// Encoding identifies the compression algorithm recorded in an envelope.
type Encoding string

// EncodingBrotli is the default encoding.
const EncodingBrotli Encoding = "br"

// Envelope is the wire wrapper for one compressed logical message.
//
// Message holds the base64 text of the compressed bytes, exactly as it
// travels on the wire:
//
//	{"enc":"br","msg":"G0AAAI..."}
type Envelope struct {
	Encoding Encoding `json:"enc"`
	Message  string   `json:"msg"`
}

// ParseEnvelope decodes the JSON form of an envelope.
// Malformed JSON or a missing encoding yields ErrCorruptPayload.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: parsing envelope: %v", ErrCorruptPayload, err)
	}
	if env.Encoding == "" {
		return Envelope{}, fmt.Errorf("%w: envelope has no encoding", ErrCorruptPayload)
	}
	return env, nil
}

// Marshal returns the JSON form of the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// MarshalEnvelope returns the JSON form of e.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	return e.Marshal()
}
