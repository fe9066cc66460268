package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil && s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		// Browsers cannot set headers on the upgrade request, so the
		// handler authenticates itself.
		r.Get(s.wsCfg.Path, s.handleWebSocket)
	})

	r.Route("/mqtt/v1", func(r chi.Router) {
		// Called by the broker.
		r.Group(func(r chi.Router) {
			r.Use(s.brokerAuth)
			r.Post("/ingress", s.handleIngress)
			r.Post("/authenticate", s.handleAuthenticate)
		})

		// Called by applications.
		r.Group(func(r chi.Router) {
			r.Use(s.applicationAuth)
			r.Get("/auth", s.handleDeviceToken)
			r.Get("/units/{unit_id}", s.handleUnit)
			r.Get("/sync", s.handleSync)
			r.Post("/send", s.handleSend)
			r.Post("/schedule", s.handleSchedule)
			r.Post("/parameters", s.handleParameters)
			r.Post("/tariff", s.handleTariff)
			if s.audit != nil {
				r.Get("/audit", s.handleAudit)
			}
		})
	})

	return r
}

// handleHealth reports the store and any extra dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"store": checkResult(ctx, s.store)}
	for name, c := range s.checks {
		checks[name] = checkResult(ctx, c)
	}

	status, code := "ok", http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

func checkResult(ctx context.Context, c HealthChecker) string {
	if err := c.HealthCheck(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

// decodeJSON reads a JSON request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}
