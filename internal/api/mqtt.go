package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/ingress"
	"github.com/nerrad567/sdr-gateway/internal/store"
)

// handleIngress accepts the broker's webhook for device publishes.
func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	var hook ingress.Webhook
	// The broker adds fields of its own, so unknown fields are allowed.
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}

	out, err := s.ingress.HandleWebhook(r.Context(), hook)
	if err != nil {
		s.logger.Debug("ingress message rejected", "client_id", hook.ClientID, "topic", hook.Topic, "error", err)
		s.writeDomainError(w, r, err)
		return
	}
	writeOK(w, out.Message)
}

// AuthenticateRequest is the broker's password authentication hook body.
type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateResponse tells the broker whether to admit the client.
type AuthenticateResponse struct {
	Result      string `json:"result"`
	IsSuperuser bool   `json:"is_superuser"`
}

const (
	authAllow = "allow"
	authDeny  = "deny"
)

// handleAuthenticate checks a unit's MQTT password against its stored hash.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}
	deny := AuthenticateResponse{Result: authDeny}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusOK, deny)
		return
	}

	creds, err := s.store.UnitCredentials(r.Context(), req.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusOK, deny)
		return
	case err != nil:
		s.writeDomainError(w, r, err)
		return
	}
	if creds.PasswordHash == "" {
		writeJSON(w, http.StatusOK, deny)
		return
	}

	ok, err := auth.VerifyPassword(req.Password, creds.PasswordHash)
	if err != nil {
		s.logger.Warn("stored password hash unusable", "unit_id", req.Username, "error", err)
		writeJSON(w, http.StatusOK, deny)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, deny)
		return
	}
	writeJSON(w, http.StatusOK, AuthenticateResponse{Result: authAllow, IsSuperuser: creds.IsSuperuser})
}
