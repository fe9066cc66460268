package dispatch

// Direction selects which codec operation a job runs.
type Direction int

const (
	// Compress turns a raw payload into a wire envelope.
	Compress Direction = iota + 1
	// Decompress turns a wire envelope into a raw payload.
	Decompress
)

// String returns the metric label for the direction.
func (d Direction) String() string {
	switch d {
	case Compress:
		return "compress"
	case Decompress:
		return "decompress"
	default:
		return "unknown"
	}
}

// Job is one unit of codec work.
//
// For Compress jobs Payload is the raw message. For Decompress jobs it is
// the JSON form of an envelope as received from the device.
type Job struct {
	ID        string
	Topic     string
	ClientID  string
	Direction Direction
	Payload   []byte
}

// Result is delivered to exactly one callback per accepted job.
//
// On success Err is nil and Payload holds the envelope JSON (Compress) or
// the raw message (Decompress). On failure Payload is nil and Err wraps a
// codec sentinel or ErrJobPanicked. Topic and ClientID are always copied
// from the job.
type Result struct {
	JobID     string
	Topic     string
	ClientID  string
	Direction Direction
	Payload   []byte
	Err       error
}

// OK reports whether the job succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Callbacks are fixed when the pool is constructed.
type Callbacks struct {
	OnCompressed   func(Result)
	OnDecompressed func(Result)
}
