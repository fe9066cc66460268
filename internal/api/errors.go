package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/codec"
	"github.com/nerrad567/sdr-gateway/internal/egress"
	"github.com/nerrad567/sdr-gateway/internal/ingress"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/store"
	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

// Result is the body of every endpoint outcome.
type Result struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

const (
	resultOK   = "ok"
	resultFail = "fail"
)

// Response messages.
const (
	msgSuccess         = "success"
	msgInvalidToken    = "Invalid token or expired token."
	msgNotProvisioned  = "Not provisioned."
	msgNoModules       = "Unit has no modules."
	msgNoRules         = "No rules configured"
	msgDelivered       = "The message was delivered to at least one subscriber."
	msgNoSubscribers   = "No matched subscribers."
	msgInvalidMessage  = "Message is invalid."
	msgDeliveryFailed  = "Failed to deliver the message to subscriber(s)"
	msgInternal        = "internal server error"
	msgUnitNotFound    = "Unit not found."
	msgMissingUnitID   = "unit_id is required"
	msgInvalidJSONBody = "invalid JSON body"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Result{Result: resultOK, Message: message})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Result{Result: resultFail, Message: message})
}

// writeForbidden is the only response to an authentication failure.
func writeForbidden(w http.ResponseWriter) {
	writeFail(w, http.StatusForbidden, msgInvalidToken)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeFail(w, http.StatusBadRequest, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeFail(w, http.StatusInternalServerError, msgInternal)
}

// isAuthError reports whether err came from token verification.
func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrTokenInvalid) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrWrongDomain)
}

// writeDomainError maps a service error onto a response. It is the single
// place sentinels become status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isAuthError(err):
		s.logger.Warn("authentication failed", "path", r.URL.Path, "reason", err, "request_id", requestID(r))
		writeForbidden(w)
	case errors.Is(err, egress.ErrNoRulesConfigured):
		writeOK(w, msgNoRules)
	case errors.Is(err, auth.ErrNotProvisioned):
		writeFail(w, http.StatusNotAcceptable, msgNotProvisioned)
	case errors.Is(err, egress.ErrNoData):
		writeFail(w, http.StatusNotAcceptable, msgNoModules)
	case errors.Is(err, store.ErrNotFound):
		writeFail(w, http.StatusNotFound, msgUnitNotFound)
	case errors.Is(err, broker.ErrBadRequest):
		writeBadRequest(w, msgInvalidMessage)
	case errors.Is(err, broker.ErrDeliveryFailed), errors.Is(err, egress.ErrCompressionFailed):
		s.logger.Error("egress delivery failed", "path", r.URL.Path, "error", err, "request_id", requestID(r))
		writeFail(w, http.StatusBadGateway, msgDeliveryFailed)
	case errors.Is(err, protocol.ErrInvalidMessage),
		errors.Is(err, protocol.ErrInvalidAction),
		errors.Is(err, protocol.ErrUnknownKind),
		errors.Is(err, codec.ErrUnsupportedEncoding),
		errors.Is(err, codec.ErrCorruptPayload),
		errors.Is(err, telemetry.ErrInvalidReading),
		errors.Is(err, ingress.ErrInvalidPayload),
		errors.Is(err, ingress.ErrUnknownUnit):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", requestID(r))
		writeInternalError(w)
	}
}

// writeStatus answers an accepted egress publish.
func writeStatus(w http.ResponseWriter, status broker.Status) {
	if status == broker.StatusNoSubscribers {
		writeOK(w, msgNoSubscribers)
		return
	}
	writeOK(w, msgDelivered)
}
