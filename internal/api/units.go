package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sdr-gateway/internal/audit"
	"github.com/nerrad567/sdr-gateway/internal/auth"
)

// DeviceTokenResponse carries a unit's broker credential.
type DeviceTokenResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Exp      int64  `json:"exp"`
}

// handleDeviceToken assigns a unit to a user and issues its device token
// with an ACL built from the unit's topic allocations.
func (s *Server) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	unitID := r.URL.Query().Get("unit_id")
	if unitID == "" {
		writeBadRequest(w, msgMissingUnitID)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = subject(r)
	}

	allocs, err := s.store.TopicAllocations(r.Context(), unitID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	acl, err := auth.BuildACL(allocs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.store.AssignUnit(r.Context(), unitID, userID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	expiry := time.Now().Add(s.tokens.DeviceTTL())
	token, err := s.tokens.IssueDeviceToken(unitID, acl, expiry)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("device token issued", "unit_id", unitID, "user_id", userID, "pub", len(acl.Pub), "sub", len(acl.Sub), "all", len(acl.All))
	s.recordAudit(r, &audit.Entry{
		Action: audit.ActionDeviceToken,
		UnitID: unitID,
		UserID: userID,
		Source: audit.SourceAPI,
		Details: map[string]any{
			"requested_by": subject(r),
			"expires_at":   expiry.Unix(),
		},
	})
	writeJSON(w, http.StatusOK, DeviceTokenResponse{Username: unitID, Token: token, Exp: expiry.Unix()})
}

// handleUnit returns the topics and broker a unit connects with.
func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	conn, err := s.store.UnitConnection(r.Context(), chi.URLParam(r, "unit_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// handleAudit lists provisioning activity, optionally for one unit or action.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{UnitID: q.Get("unit_id"), Action: q.Get("action")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// recordAudit stores e if an audit log is configured. Failures are logged
// and never fail the request.
func (s *Server) recordAudit(r *http.Request, e *audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Create(r.Context(), e); err != nil {
		s.logger.Warn("audit entry not recorded", "action", e.Action, "unit_id", e.UnitID, "error", err, "request_id", requestID(r))
	}
}
