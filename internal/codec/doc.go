// Package codec implements the compressed envelope used on every device
// channel: the payload is brotli-compressed, base64-encoded and wrapped in
// a small JSON object that names the encoding.
//
// Decoding never partially succeeds. An envelope either yields the exact
// bytes that were encoded, or fails with ErrUnsupportedEncoding or
// ErrCorruptPayload.
package codec
