package codec

import "errors"

// Sentinel errors returned by Decode and ParseEnvelope.
var (
	// ErrUnsupportedEncoding is returned when an envelope names an encoding
	// this codec does not implement.
	ErrUnsupportedEncoding = errors.New("codec: unsupported encoding")

	// ErrCorruptPayload is returned when the envelope body cannot be decoded,
	// either at the base64 layer or during decompression.
	ErrCorruptPayload = errors.New("codec: corrupt payload")
)
