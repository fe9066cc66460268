package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/retry"
	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultInterval     = 5 * time.Second
	DefaultMinBatchSize = 10
	DefaultGrace        = 2500 * time.Millisecond
	DefaultMaxPending   = 50000
	DefaultWriteTimeout = 10 * time.Second
)

// Sink durably stores a batch of readings.
type Sink interface {
	WriteBatch(ctx context.Context, b telemetry.Batch) error
}

// Logger is the logging surface used by the buffer.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config controls the flush policy.
type Config struct {
	Interval     time.Duration
	MinBatchSize int
	// Grace is added to Interval when Stop waits for the loop to exit.
	Grace time.Duration
	// MaxPending caps the pending set. The oldest readings are dropped
	// when appends or re-queued failures would exceed it.
	MaxPending   int
	WriteTimeout time.Duration
	Retry        retry.Config
}

// Buffer accumulates readings and writes them to a Sink in batches.
//
// Thread Safety:
//   - Append, Add, Flush and Pending may be called concurrently.
//   - The pending set is only touched while holding mu.
type Buffer struct {
	sink    Sink
	cfg     Config
	logger  Logger
	metrics *metrics.Metrics

	onError  func(error)
	onAppend func([]telemetry.Reading)
	onFlush  func(telemetry.Batch)

	mu      sync.Mutex
	pending []telemetry.Reading
	closed  bool

	// flushMu serialises regular flushes so retries and re-queues do not
	// interleave.
	flushMu sync.Mutex

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	done        chan struct{}
	loopDone    chan struct{}
	cancelLoop  context.CancelFunc
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the buffer logger.
func WithLogger(l Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Buffer) {
		b.metrics = m
	}
}

// WithErrorHandler receives every failed flush, wrapped in ErrWriteFailed.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Buffer) {
		b.onError = fn
	}
}

// WithAppendListener receives readings as soon as they are buffered.
// It runs on the appending goroutine and must not block.
func WithAppendListener(fn func([]telemetry.Reading)) Option {
	return func(b *Buffer) {
		b.onAppend = fn
	}
}

// WithFlushListener receives every batch the sink accepted, after the write.
func WithFlushListener(fn func(telemetry.Batch)) Option {
	return func(b *Buffer) {
		b.onFlush = fn
	}
}

// New creates a Buffer. The background loop starts with Start.
func New(sink Sink, cfg Config, opts ...Option) (*Buffer, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinBatchSize < 0 {
		cfg.MinBatchSize = DefaultMinBatchSize
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	b := &Buffer{
		sink:     sink,
		cfg:      cfg,
		logger:   noopLogger{},
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Append parses a device report and buffers its readings. An invalid
// report is rejected as a whole.
func (b *Buffer) Append(rep protocol.ReadingReport) error {
	readings, err := telemetry.FromReport(rep)
	if err != nil {
		return err
	}
	return b.Add(readings...)
}

// Add buffers already-parsed readings.
func (b *Buffer) Add(readings ...telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStopped
	}
	b.pending = append(b.pending, readings...)
	dropped := b.trimLocked()
	pending := len(b.pending)
	b.mu.Unlock()

	b.recordPending(pending)
	if dropped > 0 {
		b.recordDropped(dropped, "pending cap reached")
	}
	if b.onAppend != nil {
		b.onAppend(readings)
	}
	return nil
}

// trimLocked drops the oldest readings beyond MaxPending. Caller holds mu.
func (b *Buffer) trimLocked() int {
	over := len(b.pending) - b.cfg.MaxPending
	if over <= 0 {
		return 0
	}
	b.pending = append([]telemetry.Reading(nil), b.pending[over:]...)
	return over
}

// Pending returns the number of buffered readings.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes the pending set to the sink if it holds at least minSize
// readings, returning how many were written. An empty buffer is never
// written. On failure the readings are re-queued ahead of newer ones.
func (b *Buffer) Flush(ctx context.Context, minSize int) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.flush(ctx, minSize, true)
}

func (b *Buffer) flush(ctx context.Context, minSize int, requeue bool) (int, error) {
	b.mu.Lock()
	n := len(b.pending)
	if n == 0 || n < minSize {
		b.mu.Unlock()
		return 0, nil
	}
	batch := telemetry.Batch{Readings: b.pending}
	b.pending = nil
	b.mu.Unlock()
	b.recordPending(0)

	start := time.Now()
	err := retry.Do(ctx, b.cfg.Retry, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		defer cancel()
		return b.sink.WriteBatch(wctx, batch)
	})
	if b.metrics != nil {
		b.metrics.BatchFlushDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		err = fmt.Errorf("%w: %d readings: %w", ErrWriteFailed, n, err)
		if b.metrics != nil {
			b.metrics.BatchFlushes.WithLabelValues("failed").Inc()
		}
		if requeue {
			b.requeue(batch.Readings)
		} else {
			b.recordDropped(n, "final flush failed")
		}
		b.reportError(err)
		return 0, err
	}

	if b.metrics != nil {
		b.metrics.BatchFlushes.WithLabelValues("ok").Inc()
		b.metrics.BatchFlushRecords.Add(float64(n))
	}
	if b.onFlush != nil {
		b.onFlush(batch)
	}
	return n, nil
}

// requeue puts failed readings back in front of anything appended since.
// Once Stop has closed the buffer nothing would write them again, so they
// are counted as dropped instead.
func (b *Buffer) requeue(readings []telemetry.Reading) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.recordDropped(len(readings), "buffer stopped before re-queue")
		return
	}
	b.pending = append(readings, b.pending...)
	dropped := b.trimLocked()
	pending := len(b.pending)
	b.mu.Unlock()

	b.recordPending(pending)
	if dropped > 0 {
		b.recordDropped(dropped, "pending cap reached while re-queueing")
	}
}

// Start launches the background flush loop.
func (b *Buffer) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	b.started = true
	go b.flushLoop(loopCtx)
	return nil
}

// flushLoop flushes once per interval until Stop or ctx cancellation.
func (b *Buffer) flushLoop(ctx context.Context) {
	defer close(b.loopDone)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Errors were already reported by flush.
			_, _ = b.Flush(ctx, b.cfg.MinBatchSize)
		case <-b.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop disables the loop, waits up to Interval+Grace for it to exit, and
// then writes everything still pending regardless of MinBatchSize. After
// Stop returns the buffer is empty and rejects further records. A failed
// final write is returned and its readings are counted as dropped.
func (b *Buffer) Stop(ctx context.Context) error {
	b.lifecycleMu.Lock()
	if b.stopped {
		b.lifecycleMu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.lifecycleMu.Unlock()

	if started {
		close(b.done)
		wait := b.cfg.Interval + b.cfg.Grace
		timer := time.NewTimer(wait)
		select {
		case <-b.loopDone:
			timer.Stop()
		case <-timer.C:
			b.logger.Error("batch flush loop did not stop in time", "waited", wait.String())
		}
		b.cancelLoop()
	}

	// A loop flush cut short by cancelLoop re-queues its readings; wait for
	// it so the final flush picks them up.
	unlock, lockErr := b.lockFlush(ctx)
	defer unlock()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	n, err := b.flush(ctx, 0, false)
	if lockErr != nil || err != nil {
		return errors.Join(lockErr, err)
	}
	b.logger.Info("batch buffer stopped", "final_flush_readings", n)
	return nil
}

// lockFlush acquires flushMu unless ctx ends first. In that case the lock
// is released as soon as the in-flight flush lets go of it.
func (b *Buffer) lockFlush(ctx context.Context) (func(), error) {
	locked := make(chan struct{})
	go func() {
		b.flushMu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return b.flushMu.Unlock, nil
	case <-ctx.Done():
		go func() {
			<-locked
			b.flushMu.Unlock()
		}()
		return func() {}, fmt.Errorf("%w: waiting for in-flight flush: %w", ErrWriteFailed, ctx.Err())
	}
}

func (b *Buffer) reportError(err error) {
	b.logger.Warn("batch flush failed", "error", err)
	if b.onError != nil {
		b.onError(err)
	}
}

func (b *Buffer) recordPending(n int) {
	if b.metrics != nil {
		b.metrics.BatchPending.Set(float64(n))
	}
}

func (b *Buffer) recordDropped(n int, reason string) {
	b.logger.Error("readings dropped", "count", n, "reason", reason)
	if b.metrics != nil {
		b.metrics.BatchDropped.Add(float64(n))
	}
}
