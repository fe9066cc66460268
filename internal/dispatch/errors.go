package dispatch

import "errors"

// Sentinel errors for dispatch pool operations.
var (
	// ErrPoolNotStarted indicates Submit was called before Start.
	ErrPoolNotStarted = errors.New("dispatch: pool not started")

	// ErrPoolStopped indicates the pool no longer accepts jobs.
	ErrPoolStopped = errors.New("dispatch: pool stopped")

	// ErrPoolAlreadyStarted indicates Start was called twice.
	ErrPoolAlreadyStarted = errors.New("dispatch: pool already started")

	// ErrQueueFull indicates the bounded queue is at capacity.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrNilCallback indicates a required completion callback was not provided.
	ErrNilCallback = errors.New("dispatch: completion callbacks are required")

	// ErrNilCodec indicates New was called without a codec.
	ErrNilCodec = errors.New("dispatch: codec is required")

	// ErrStopTimeout indicates workers did not finish within the stop timeout.
	ErrStopTimeout = errors.New("dispatch: timeout waiting for workers to stop")

	// ErrUnknownDirection indicates a job with an invalid direction.
	ErrUnknownDirection = errors.New("dispatch: unknown job direction")

	// ErrJobPanicked indicates the codec panicked while processing a job.
	ErrJobPanicked = errors.New("dispatch: job panicked")
)
