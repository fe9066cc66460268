package api

import (
	"context"
	"net/http"

	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
)

// handleSync sends the unit's full rule snapshot.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	unitID := r.URL.Query().Get("unit_id")
	if unitID == "" {
		writeBadRequest(w, msgMissingUnitID)
		return
	}
	status, err := s.egress.SyncRules(r.Context(), unitID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeStatus(w, status)
}

// handleSend publishes a rule set as an immediate command.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sendBody(s, w, r, func(ctx context.Context, unitID string, body protocol.RuleSet) (broker.Status, error) {
		return s.egress.SendCommand(ctx, unitID, protocol.Command{RuleSet: body})
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	sendBody(s, w, r, s.egress.SendSchedule)
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	sendBody(s, w, r, s.egress.SendParameters)
}

func (s *Server) handleTariff(w http.ResponseWriter, r *http.Request) {
	sendBody(s, w, r, s.egress.SendTariffSchedule)
}

// sendBody decodes a T from the request and publishes it to the unit
// named by the unit_id query parameter.
func sendBody[T any](s *Server, w http.ResponseWriter, r *http.Request, send func(context.Context, string, T) (broker.Status, error)) {
	unitID := r.URL.Query().Get("unit_id")
	if unitID == "" {
		writeBadRequest(w, msgMissingUnitID)
		return
	}
	var body T
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, msgInvalidJSONBody)
		return
	}

	status, err := send(r.Context(), unitID, body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("egress message published", "unit_id", unitID, "status", status.String(), "subject", subject(r))
	writeStatus(w, status)
}
