package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sdr-gateway/internal/audit"
	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/codec"
	"github.com/nerrad567/sdr-gateway/internal/dispatch"
	"github.com/nerrad567/sdr-gateway/internal/egress"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBacklog = 256
)

// Buffer accepts parsed reading reports.
type Buffer interface {
	Append(rep protocol.ReadingReport) error
}

// Provisioner registers a unit's modules under its owner.
type Provisioner interface {
	RegisterModules(ctx context.Context, unitID, userID string, moduleIDs []string) error
}

// TokenVerifier checks setup tokens.
type TokenVerifier interface {
	VerifyApplicationToken(token string) (*auth.ApplicationClaims, error)
}

// RuleSyncer sends rule snapshots to units.
type RuleSyncer interface {
	SyncRules(ctx context.Context, unitID string) (broker.Status, error)
	QueueRuleSync(ctx context.Context, unitID string) error
}

// Auditor records provisioning activity.
type Auditor interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Logger is the logging surface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds ingress settings.
type Config struct {
	Topics mqtt.Topics
	// Timeout bounds decompression plus handling of one webhook message.
	Timeout time.Duration
	// Backlog is the number of decompressed subscriber messages waiting
	// for Run.
	Backlog int
}

// Webhook is the body the broker posts for each device publish.
type Webhook struct {
	ClientID string          `json:"clientId"`
	Topic    string          `json:"topic"`
	Data     json.RawMessage `json:"data"`
}

// Outcome describes a handled message.
type Outcome struct {
	Kind protocol.Kind
	// Message is the human readable result returned to the caller.
	Message string
}

// Service routes decompressed device messages.
type Service struct {
	buffer  Buffer
	prov    Provisioner
	tokens  TokenVerifier
	rules   RuleSyncer
	cfg     Config
	awaiter *dispatch.Awaiter
	logger  Logger
	metrics *metrics.Metrics
	auditor Auditor

	backlog chan dispatch.Result

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

// WithMetrics counts handled messages.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditor records unit setups.
func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// New creates a Service. SetDispatcher must be called before handling.
func New(buffer Buffer, prov Provisioner, tokens TokenVerifier, rules RuleSyncer, cfg Config, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = defaultBacklog
	}
	s := &Service{
		buffer:  buffer,
		prov:    prov,
		tokens:  tokens,
		rules:   rules,
		cfg:     cfg,
		awaiter: dispatch.NewAwaiter(),
		logger:  noopLogger{},
		backlog: make(chan dispatch.Result, cfg.Backlog),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher sets the pool decompress jobs are submitted to.
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

// HandleWebhook decompresses and handles one broker webhook delivery,
// returning once the message has been acted on.
func (s *Service) HandleWebhook(ctx context.Context, w Webhook) (Outcome, error) {
	unitID, err := s.resolveUnit(w.Topic, w.ClientID)
	if err != nil {
		s.record("unknown", "rejected")
		return Outcome{}, err
	}
	envelope, err := envelopeBytes(w.Data)
	if err != nil {
		s.record("unknown", "invalid")
		return Outcome{}, err
	}
	d := s.getDispatcher()
	if d == nil {
		return Outcome{}, ErrNoDispatcher
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.awaiter.Do(ctx, d, dispatch.Job{
		ID:        uuid.NewString(),
		Topic:     w.Topic,
		ClientID:  unitID,
		Direction: dispatch.Decompress,
		Payload:   envelope,
	})
	if err != nil {
		s.record("unknown", "failed")
		return Outcome{}, err
	}
	if !res.OK() {
		s.record("unknown", "invalid")
		return Outcome{}, res.Err
	}
	return s.handle(ctx, unitID, res.Payload)
}

// Receive is the MQTT subscription handler. The payload is queued for
// decompression and handled later by Run.
func (s *Service) Receive(topic string, payload []byte) error {
	unitID, ok := s.cfg.Topics.UnitFromIngress(topic)
	if !ok {
		s.record("unknown", "rejected")
		return fmt.Errorf("%w: topic %q", ErrUnknownUnit, topic)
	}
	d := s.getDispatcher()
	if d == nil {
		return ErrNoDispatcher
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return d.Submit(ctx, dispatch.Job{
		ID:        uuid.NewString(),
		Topic:     topic,
		ClientID:  unitID,
		Direction: dispatch.Decompress,
		Payload:   bytes.Clone(payload),
	})
}

// HandleDecompressed is the pool's decompress callback. Awaited results go
// back to HandleWebhook; subscriber results are queued for Run so pool
// workers never wait on egress compression.
func (s *Service) HandleDecompressed(res dispatch.Result) {
	if s.awaiter.Deliver(res) {
		return
	}
	select {
	case s.backlog <- res:
	default:
		s.record("unknown", "dropped")
		s.logger.Warn("ingress backlog full, dropping message", "topic", res.Topic, "unit_id", res.ClientID, "error", ErrBacklogFull)
	}
}

// Run handles queued subscriber messages until ctx is cancelled. Messages
// already decompressed when ctx ends are still handled before Run returns.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return nil
		case res := <-s.backlog:
			s.handleQueued(ctx, res)
		}
	}
}

// drain handles whatever is in the backlog without waiting for more.
func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case res := <-s.backlog:
			s.handleQueued(ctx, res)
		default:
			return
		}
	}
}

func (s *Service) handleQueued(ctx context.Context, res dispatch.Result) {
	if !res.OK() {
		s.record("unknown", "invalid")
		s.logger.Warn("discarding undecodable device message", "topic", res.Topic, "unit_id", res.ClientID, "error", res.Err)
		return
	}
	hctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if _, err := s.handle(hctx, res.ClientID, res.Payload); err != nil {
		s.logger.Warn("device message rejected", "topic", res.Topic, "unit_id", res.ClientID, "error", err)
	}
}

func (s *Service) handle(ctx context.Context, unitID string, raw []byte) (Outcome, error) {
	msg, err := protocol.DecodeIngress(raw)
	if err != nil {
		s.record("unknown", "invalid")
		return Outcome{}, err
	}
	kind := msg.Kind()

	var out Outcome
	switch m := msg.(type) {
	case *protocol.ReadingReport:
		out, err = s.handleReading(unitID, m)
	case *protocol.SetupRequest:
		out, err = s.handleSetup(ctx, unitID, m)
	case *protocol.UpdateRequest:
		out, err = s.handleUpdate(ctx, unitID, m)
	}
	if err != nil {
		s.record(string(kind), "failed")
		return Outcome{Kind: kind}, err
	}
	s.record(string(kind), "ok")
	return out, nil
}

func (s *Service) handleReading(unitID string, rep *protocol.ReadingReport) (Outcome, error) {
	if err := s.buffer.Append(*rep); err != nil {
		return Outcome{}, fmt.Errorf("buffering readings from %s: %w", unitID, err)
	}
	s.logger.Debug("readings buffered", "unit_id", unitID, "modules", len(rep.Data))
	return Outcome{Kind: protocol.KindReading, Message: "success"}, nil
}

func (s *Service) handleSetup(ctx context.Context, unitID string, req *protocol.SetupRequest) (Outcome, error) {
	claims, err := s.tokens.VerifyApplicationToken(req.SetupToken)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.prov.RegisterModules(ctx, unitID, claims.Subject, req.ModuleIDs); err != nil {
		return Outcome{}, fmt.Errorf("registering modules for %s: %w", unitID, err)
	}
	s.logger.Info("unit set up", "unit_id", unitID, "user_id", claims.Subject, "modules", len(req.ModuleIDs))
	s.recordSetup(ctx, unitID, claims.Subject, req.ModuleIDs)

	status, err := s.rules.SyncRules(ctx, unitID)
	switch {
	case errors.Is(err, egress.ErrNoRulesConfigured):
		return Outcome{Kind: protocol.KindSetup, Message: "No rules configured"}, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("syncing rules for %s: %w", unitID, err)
	}
	return Outcome{Kind: protocol.KindSetup, Message: status.String()}, nil
}

func (s *Service) handleUpdate(ctx context.Context, unitID string, req *protocol.UpdateRequest) (Outcome, error) {
	err := s.rules.QueueRuleSync(ctx, unitID)
	switch {
	case errors.Is(err, egress.ErrNoRulesConfigured):
		return Outcome{Kind: protocol.KindUpdate, Message: "No rules configured"}, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("queueing rule sync for %s: %w", unitID, err)
	}
	s.logger.Info("rule sync requested", "unit_id", unitID, "reason", req.Reason)
	return Outcome{Kind: protocol.KindUpdate, Message: "success"}, nil
}

// resolveUnit prefers the unit named by an ingress topic and falls back to
// the broker-authenticated client ID, which is how setup-topic messages
// are attributed.
func (s *Service) resolveUnit(topic, clientID string) (string, error) {
	if unitID, ok := s.cfg.Topics.UnitFromIngress(topic); ok {
		return unitID, nil
	}
	if clientID != "" {
		return clientID, nil
	}
	return "", fmt.Errorf("%w: topic %q", ErrUnknownUnit, topic)
}

// envelopeBytes accepts data as an envelope object or as a JSON string
// holding one, and returns the envelope JSON.
func envelopeBytes(data json.RawMessage) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		data = []byte(s)
	}
	if _, err := codec.ParseEnvelope(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

func (s *Service) recordSetup(ctx context.Context, unitID, userID string, moduleIDs []string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Create(ctx, &audit.Entry{
		Action:  audit.ActionUnitSetup,
		UnitID:  unitID,
		UserID:  userID,
		Source:  audit.SourceIngress,
		Details: map[string]any{"module_ids": moduleIDs},
	})
	if err != nil {
		s.logger.Warn("audit entry not recorded", "unit_id", unitID, "error", err)
	}
}

func (s *Service) record(kind, outcome string) {
	s.metrics.IngressMessage(kind, outcome)
}
