package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/audit"
	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/config"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/sdr-gateway/internal/ingress"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TokenService verifies bearer tokens and issues device tokens.
type TokenService interface {
	VerifyApplicationToken(token string) (*auth.ApplicationClaims, error)
	VerifyBrokerToken(token string) (string, error)
	IssueDeviceToken(username string, acl auth.ACL, expiry time.Time) (string, error)
	DeviceTTL() time.Duration
}

// Store is the provisioning data the handlers read and update.
type Store interface {
	TopicAllocations(ctx context.Context, unitID string) ([]auth.TopicAllocation, error)
	AssignUnit(ctx context.Context, unitID, userID string) error
	UnitConnection(ctx context.Context, unitID string) (store.UnitConnection, error)
	UnitCredentials(ctx context.Context, unitID string) (store.UnitCredentials, error)
	HealthCheck(ctx context.Context) error
}

// IngressHandler handles broker webhook deliveries.
type IngressHandler interface {
	HandleWebhook(ctx context.Context, w ingress.Webhook) (ingress.Outcome, error)
}

// EgressSender publishes device-bound messages.
type EgressSender interface {
	SyncRules(ctx context.Context, unitID string) (broker.Status, error)
	SendCommand(ctx context.Context, unitID string, cmd protocol.Command) (broker.Status, error)
	SendSchedule(ctx context.Context, unitID string, schedule protocol.Schedule) (broker.Status, error)
	SendParameters(ctx context.Context, unitID string, params protocol.Parameters) (broker.Status, error)
	SendTariffSchedule(ctx context.Context, unitID string, tariff protocol.TariffSchedule) (broker.Status, error)
}

// AuditLog records and lists provisioning activity.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is a dependency reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	// Registry is served on Metrics.Path and records request durations.
	Registry *metrics.Metrics
	Tokens   TokenService
	Store    Store
	Ingress  IngressHandler
	Egress   EgressSender
	// Audit is optional; without it nothing is recorded and the audit
	// route is not mounted.
	Audit AuditLog
	// Checks are extra dependencies reported by /api/v1/health, by name.
	Checks map[string]HealthChecker
	// Hub, when set, is used instead of a server-owned hub so the batch
	// buffer can publish into it before the server starts.
	Hub     *Hub
	Version string
}

// Server is the gateway's HTTP server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	metrics     *metrics.Metrics
	tokens      TokenService
	store       Store
	ingress     IngressHandler
	egress      EgressSender
	audit       AuditLog
	checks      map[string]HealthChecker
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token service is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Ingress == nil:
		return nil, fmt.Errorf("ingress handler is required")
	case deps.Egress == nil:
		return nil, fmt.Errorf("egress sender is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      wsDefaults(deps.WS),
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		metrics:    deps.Registry,
		tokens:     deps.Tokens,
		store:      deps.Store,
		ingress:    deps.Ingress,
		egress:     deps.Egress,
		audit:      deps.Audit,
		checks:     deps.Checks,
		version:    deps.Version,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub, creating it if Start has not run yet.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening in a background goroutine. Close stops it.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	hub := s.Hub()
	if !s.externalHub {
		go hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// wsDefaults fills unset WebSocket timings; a zero ping interval would
// stop the write pump's ticker from being created.
func wsDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}
