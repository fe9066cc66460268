package egress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/dispatch"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/store"
)

const defaultTimeout = 10 * time.Second

// Repository is the provisioning data SyncRules reads.
type Repository interface {
	ModulesByUnit(ctx context.Context, unitID string) ([]string, error)
	RuleAllocations(ctx context.Context, moduleIDs []string) ([]store.RuleAllocation, error)
	RulesByID(ctx context.Context, ids []int64) ([]protocol.DeviceRule, error)
}

// Logger is the logging surface used by the service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds publish settings.
type Config struct {
	Topics mqtt.Topics
	QoS    byte
	Retain bool
	// Timeout bounds compression plus publish for one message.
	Timeout time.Duration
}

// Service turns typed egress messages into compressed publishes on
// egress/{unit_id}.
type Service struct {
	repo      Repository
	publisher broker.Publisher
	cfg       Config
	awaiter   *dispatch.Awaiter
	logger    Logger
	metrics   *metrics.Metrics

	mu         sync.RWMutex
	dispatcher dispatch.Submitter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records publish outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a Service. SetDispatcher must be called before sending.
func New(repo Repository, publisher broker.Publisher, cfg Config, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s := &Service{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		awaiter:   dispatch.NewAwaiter(),
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher sets the pool compress jobs are submitted to. The pool
// is built after the service because its callbacks point back here.
func (s *Service) SetDispatcher(d dispatch.Submitter) {
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
}

func (s *Service) getDispatcher() dispatch.Submitter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher
}

// SendRules publishes a rule set.
func (s *Service) SendRules(ctx context.Context, unitID string, rules protocol.RuleSet) (broker.Status, error) {
	return s.Send(ctx, unitID, rules)
}

// SendSchedule publishes a relay schedule.
func (s *Service) SendSchedule(ctx context.Context, unitID string, schedule protocol.Schedule) (broker.Status, error) {
	return s.Send(ctx, unitID, schedule)
}

// SendParameters publishes operating parameters.
func (s *Service) SendParameters(ctx context.Context, unitID string, params protocol.Parameters) (broker.Status, error) {
	return s.Send(ctx, unitID, params)
}

// SendTariffSchedule publishes a time-of-use tariff schedule.
func (s *Service) SendTariffSchedule(ctx context.Context, unitID string, tariff protocol.TariffSchedule) (broker.Status, error) {
	return s.Send(ctx, unitID, tariff)
}

// SendCommand publishes an immediate command.
func (s *Service) SendCommand(ctx context.Context, unitID string, cmd protocol.Command) (broker.Status, error) {
	return s.Send(ctx, unitID, cmd)
}

// Send encodes body, compresses it through the pool and publishes it,
// returning once the broker has answered.
func (s *Service) Send(ctx context.Context, unitID string, body protocol.Body) (broker.Status, error) {
	raw, err := protocol.EncodeEgress(body)
	if err != nil {
		return 0, err
	}
	d := s.getDispatcher()
	if d == nil {
		return 0, ErrNoDispatcher
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	topic := s.cfg.Topics.Egress(unitID)
	res, err := s.awaiter.Do(ctx, d, dispatch.Job{
		ID:        uuid.NewString(),
		Topic:     topic,
		ClientID:  unitID,
		Direction: dispatch.Compress,
		Payload:   raw,
	})
	if err != nil {
		s.record(body.Kind(), "compress_failed")
		return 0, fmt.Errorf("%w: %w", ErrCompressionFailed, err)
	}
	if !res.OK() {
		s.record(body.Kind(), "compress_failed")
		return 0, fmt.Errorf("%w: %w", ErrCompressionFailed, res.Err)
	}

	return s.publish(ctx, body.Kind(), topic, res.Payload)
}

// Enqueue encodes body and submits it for compression without waiting.
// HandleCompressed publishes it when the pool is done.
func (s *Service) Enqueue(ctx context.Context, unitID string, body protocol.Body) error {
	raw, err := protocol.EncodeEgress(body)
	if err != nil {
		return err
	}
	d := s.getDispatcher()
	if d == nil {
		return ErrNoDispatcher
	}
	return d.Submit(ctx, dispatch.Job{
		ID:        uuid.NewString(),
		Topic:     s.cfg.Topics.Egress(unitID),
		ClientID:  unitID,
		Direction: dispatch.Compress,
		Payload:   raw,
	})
}

// HandleCompressed is the pool's compress callback. Results someone is
// waiting on go back to Send; the rest were queued by Enqueue and are
// published here.
func (s *Service) HandleCompressed(res dispatch.Result) {
	if s.awaiter.Deliver(res) {
		return
	}
	if !res.OK() {
		s.logger.Error("queued egress compression failed", "topic", res.Topic, "job_id", res.JobID, "error", res.Err)
		s.record("queued", "compress_failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if _, err := s.publish(ctx, "queued", res.Topic, res.Payload); err != nil {
		s.logger.Error("queued egress publish failed", "topic", res.Topic, "job_id", res.JobID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, kind protocol.Kind, topic string, payload []byte) (broker.Status, error) {
	status, err := s.publisher.Publish(ctx, broker.Message{
		Topic:   topic,
		Payload: payload,
		QoS:     s.cfg.QoS,
		Retain:  s.cfg.Retain,
	})
	if err != nil {
		label := "failed"
		if errors.Is(err, broker.ErrBadRequest) {
			label = "bad_request"
		}
		s.record(kind, label)
		return 0, err
	}

	s.record(kind, status.String())
	if status == broker.StatusNoSubscribers {
		s.logger.Info("egress message accepted with no subscribers", "topic", topic, "type", kind)
	}
	return status, nil
}

func (s *Service) record(kind protocol.Kind, status string) {
	s.metrics.EgressPublish(string(kind), status)
}
