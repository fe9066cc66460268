package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/codec"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/metrics"
)

const (
	// DefaultWorkers is used when Config.Workers is not positive.
	DefaultWorkers = 5
	// DefaultQueueSize is used when Config.QueueSize is not positive.
	DefaultQueueSize = 1000
)

// Codec is the subset of codec.Codec the pool needs.
type Codec interface {
	Encode(payload []byte) (codec.Envelope, error)
	Decode(env codec.Envelope) ([]byte, error)
}

// Logger is the logging surface used by the pool.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Config controls pool sizing.
type Config struct {
	Workers   int
	QueueSize int
	// Block makes Submit wait for queue space instead of returning ErrQueueFull.
	Block bool
}

// Pool runs codec jobs on a fixed set of workers.
//
// Thread Safety:
//   - Submit may be called from any goroutine.
//   - Callbacks run on worker goroutines; they must not block for long.
type Pool struct {
	codec     Codec
	callbacks Callbacks
	cfg       Config
	logger    Logger
	metrics   *metrics.Metrics

	jobs     chan Job
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	// mu is held for reading by every in-flight Submit and for writing by
	// Stop while it closes the job channel.
	mu      sync.RWMutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New creates a pool. Both callbacks are required and cannot be changed later.
func New(c Codec, cfg Config, callbacks Callbacks, opts ...Option) (*Pool, error) {
	if c == nil {
		return nil, ErrNilCodec
	}
	if callbacks.OnCompressed == nil || callbacks.OnDecompressed == nil {
		return nil, ErrNilCallback
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	p := &Pool{
		codec:     c,
		callbacks: callbacks,
		cfg:       cfg,
		logger:    noopLogger{},
		jobs:      make(chan Job, cfg.QueueSize),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the workers. They run until Stop closes the queue and
// every accepted job has been delivered; cancelling ctx does not abandon
// queued work, so callers must still call Stop.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
	return nil
}

// Submit queues a job.
//
// In reject mode a full queue returns ErrQueueFull immediately. In block
// mode Submit waits for space until ctx ends or the pool stops.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job.Direction != Compress && job.Direction != Decompress {
		return fmt.Errorf("%w: %d", ErrUnknownDirection, job.Direction)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	if !p.cfg.Block {
		select {
		case p.jobs <- job:
			p.accepted()
			return nil
		default:
			p.reject()
			return ErrQueueFull
		}
	}

	select {
	case p.jobs <- job:
		p.accepted()
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		p.reject()
		return fmt.Errorf("waiting for queue space: %w", ctx.Err())
	}
}

func (p *Pool) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.DispatchSubmitted.Inc()
		p.metrics.DispatchQueueDepth.Set(float64(len(p.jobs)))
	}
}

func (p *Pool) reject() {
	p.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.DispatchDropped.Inc()
	}
}

// Stop stops accepting jobs, lets the workers finish everything already
// queued, and waits up to timeout for them to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	// Wake blocked submitters before taking the write lock they are holding
	// for reading.
	p.mu.RLock()
	if !p.started || p.stopped {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		if p.metrics != nil {
			p.metrics.DispatchQueueDepth.Set(float64(len(p.jobs)))
		}
		p.deliver(p.process(job))
	}
}

// process runs one job and converts every codec failure, including a
// panic, into a failure Result.
func (p *Pool) process(job Job) (res Result) {
	start := time.Now()
	res = Result{
		JobID:     job.ID,
		Topic:     job.Topic,
		ClientID:  job.ClientID,
		Direction: job.Direction,
	}

	defer func() {
		if r := recover(); r != nil {
			res.Payload = nil
			res.Err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}

		p.processed.Add(1)
		outcome := "success"
		if res.Err != nil {
			p.failed.Add(1)
			outcome = "failure"
			p.logger.Debug("codec job failed",
				"topic", job.Topic,
				"direction", job.Direction.String(),
				"error", res.Err,
			)
		}
		if p.metrics != nil {
			p.metrics.DispatchProcessed.WithLabelValues(job.Direction.String(), outcome).Inc()
			p.metrics.DispatchDuration.WithLabelValues(job.Direction.String()).Observe(time.Since(start).Seconds())
		}
	}()

	switch job.Direction {
	case Compress:
		env, err := p.codec.Encode(job.Payload)
		if err != nil {
			res.Err = err
			return res
		}
		wire, err := env.Marshal()
		if err != nil {
			res.Err = fmt.Errorf("marshalling envelope: %w", err)
			return res
		}
		res.Payload = wire
	case Decompress:
		env, err := codec.ParseEnvelope(job.Payload)
		if err != nil {
			res.Err = err
			return res
		}
		raw, err := p.codec.Decode(env)
		if err != nil {
			res.Err = err
			return res
		}
		res.Payload = raw
	}
	return res
}

// deliver invokes the callback for the result's direction. A panicking
// callback is logged and does not take the worker down.
func (p *Pool) deliver(res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch callback panicked",
				"topic", res.Topic,
				"direction", res.Direction.String(),
				"panic", r,
			)
		}
	}()

	if res.Direction == Compress {
		p.callbacks.OnCompressed(res)
		return
	}
	p.callbacks.OnDecompressed(res)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.cfg.Workers,
		QueueSize:  p.cfg.QueueSize,
		QueueDepth: len(p.jobs),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
