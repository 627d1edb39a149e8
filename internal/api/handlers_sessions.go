// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/metrics"
	"github.com/ManuGH/lowroll/internal/session"
)

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req joinRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	res, err := s.sessions.Join(r.Context(), sess.RoomID, ident, req.Bots)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.sessions.Heartbeat(chi.URLParam(r, "sessionID"), ident.PlayerID); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	token := identity.ExtractToken(r)
	if token == "" {
		writeErr(w, r, apperr.E(apperr.KindUnauthenticated, "refresh requires a bearer token"))
		return
	}
	participantID := req.ParticipantID
	if participantID == "" {
		ident, err := s.identity.Verify(token)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		participantID = ident.PlayerID
	}
	ident, err := s.sessions.RefreshAuth(chi.URLParam(r, "sessionID"), participantID, token)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"playerId":     participantID,
		"identityKind": ident.Kind,
	})
}

func (s *Server) handleParticipantState(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		Action session.StateOp `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := s.sessions.UpdateParticipantState(chi.URLParam(r, "sessionID"), ident.PlayerID, req.Action)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.sessions.Leave(chi.URLParam(r, "sessionID"), ident.PlayerID, "left"); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	if _, err := s.resolve(r); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.sessions.QueueNext(chi.URLParam(r, "sessionID")); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleModerate applies an in-session kick or ban. Operator-gated.
func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := identity.AuthorizeAdmin(s.adminCfg, r, ident, identity.RoleOperator); err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		Action   string `json:"action"` // kick|ban
		TargetID string `json:"targetId"`
		Reason   string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.TargetID == "" {
		writeErr(w, r, apperr.E(apperr.KindBadRequest, "targetId is required"))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	switch req.Action {
	case "kick":
		err = s.sessions.Leave(sessionID, req.TargetID, "kicked")
	case "ban":
		if err = s.registry.Ban(sess.RoomID, req.TargetID); err == nil {
			err = s.sessions.Leave(sessionID, req.TargetID, "banned")
		}
	default:
		err = apperr.Ef(apperr.KindBadRequest, "unknown moderation action %q", req.Action)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	metrics.IncModerationAction(req.Action)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
