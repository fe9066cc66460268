package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

const (
	// DefaultQuality is the brotli quality used when none is configured.
	DefaultQuality = brotli.BestCompression

	// DefaultMaxDecodedSize bounds the output of a single Decode call.
	DefaultMaxDecodedSize = 16 << 20
)

// Logger is the logging surface used by the codec.
type Logger interface {
	Debug(msg string, args ...any)
}

// Observer receives size statistics for every encoded envelope.
type Observer interface {
	ObserveCompression(encoding string, rawSize, encodedSize int)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Algorithm is one compression scheme an envelope can name.
type Algorithm interface {
	NewWriter(dst io.Writer, quality int) io.WriteCloser
	NewReader(src io.Reader) io.Reader
}

type brotliAlgorithm struct{}

func (brotliAlgorithm) NewWriter(dst io.Writer, quality int) io.WriteCloser {
	return brotli.NewWriterLevel(dst, quality)
}

func (brotliAlgorithm) NewReader(src io.Reader) io.Reader {
	return brotli.NewReader(src)
}

// Codec converts raw payloads to and from envelopes.
//
// A Codec holds only immutable settings and is safe for concurrent use.
type Codec struct {
	quality        int
	maxDecodedSize int64
	encoding       Encoding
	algorithms     map[Encoding]Algorithm
	logger         Logger
	observer       Observer
}

// Option configures a Codec.
type Option func(*Codec)

// WithQuality sets the brotli quality (0-11).
func WithQuality(q int) Option {
	return func(c *Codec) {
		if q >= brotli.BestSpeed && q <= brotli.BestCompression {
			c.quality = q
		}
	}
}

// WithMaxDecodedSize bounds the decompressed size Decode will accept.
func WithMaxDecodedSize(n int64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDecodedSize = n
		}
	}
}

// WithLogger sets the logger used for compression diagnostics.
func WithLogger(l Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver attaches a compression ratio observer.
func WithObserver(o Observer) Option {
	return func(c *Codec) {
		c.observer = o
	}
}

// WithAlgorithm registers an additional encoding Decode accepts. With
// emit set, Encode produces it instead of brotli.
func WithAlgorithm(enc Encoding, alg Algorithm, emit bool) Option {
	return func(c *Codec) {
		if enc == "" || alg == nil {
			return
		}
		c.algorithms[enc] = alg
		if emit {
			c.encoding = enc
		}
	}
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		quality:        DefaultQuality,
		maxDecodedSize: DefaultMaxDecodedSize,
		encoding:       EncodingBrotli,
		algorithms:     map[Encoding]Algorithm{EncodingBrotli: brotliAlgorithm{}},
		logger:         noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode compresses payload into an envelope, brotli unless another
// encoding was selected with WithAlgorithm.
func (c *Codec) Encode(payload []byte) (Envelope, error) {
	var buf bytes.Buffer
	w := c.algorithms[c.encoding].NewWriter(&buf, c.quality)
	if _, err := w.Write(payload); err != nil {
		return Envelope{}, fmt.Errorf("compressing payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return Envelope{}, fmt.Errorf("finishing compression: %w", err)
	}

	env := Envelope{
		Encoding: c.encoding,
		Message:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}

	c.logger.Debug("payload compressed",
		"encoding", string(env.Encoding),
		"raw_bytes", len(payload),
		"compressed_bytes", buf.Len(),
		"encoded_bytes", len(env.Message),
		"ratio", ratio(len(payload), len(env.Message)),
	)
	if c.observer != nil {
		c.observer.ObserveCompression(string(env.Encoding), len(payload), len(env.Message))
	}

	return env, nil
}

// Decode returns the raw payload carried by env.
//
// Returns ErrUnsupportedEncoding for an unknown encoding and
// ErrCorruptPayload when base64 or brotli decoding fails.
func (c *Codec) Decode(env Envelope) ([]byte, error) {
	alg, ok := c.algorithms[env.Encoding]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, env.Encoding)
	}

	compressed, err := base64.StdEncoding.DecodeString(env.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorruptPayload, err)
	}

	r := io.LimitReader(alg.NewReader(bytes.NewReader(compressed)), c.maxDecodedSize+1)
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptPayload, env.Encoding, err)
	}
	if int64(len(payload)) > c.maxDecodedSize {
		return nil, fmt.Errorf("%w: decoded payload exceeds %d bytes", ErrCorruptPayload, c.maxDecodedSize)
	}

	c.logger.Debug("payload decompressed",
		"encoding", string(env.Encoding),
		"encoded_bytes", len(env.Message),
		"raw_bytes", len(payload),
	)

	return payload, nil
}

func ratio(raw, encoded int) float64 {
	if raw == 0 {
		return 0
	}
	return float64(encoded) / float64(raw)
}
