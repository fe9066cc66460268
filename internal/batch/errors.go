package batch

import "errors"

// Sentinel errors for batch buffer operations.
var (
	// ErrWriteFailed wraps every sink failure reported by a flush.
	ErrWriteFailed = errors.New("batch: sink write failed")

	// ErrStopped indicates the buffer no longer accepts records.
	ErrStopped = errors.New("batch: buffer stopped")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("batch: buffer already started")

	// ErrNilSink indicates New was called without a sink.
	ErrNilSink = errors.New("batch: sink is required")
)
