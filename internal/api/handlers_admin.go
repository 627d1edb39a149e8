// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/audit"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/moderation"
)

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request, _ string) {
	ov, err := s.admin.Overview(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, s.admin.Metrics())
}

func (s *Server) handleAdminRooms(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.admin.ListRooms()})
}

func (s *Server) handleAdminStorage(w http.ResponseWriter, r *http.Request, _ string) {
	info, err := s.admin.StorageInfo(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request, _ string) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	recs, next, err := s.admin.Audit(r.Context(), q.Get("cursor"), limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"cursor":  next,
	})
}

func (s *Server) handleAdminRolesList(w http.ResponseWriter, r *http.Request, _ string) {
	list, err := s.admin.RolesList(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": list})
}

func (s *Server) handleAdminExpireRoom(w http.ResponseWriter, r *http.Request, actorID string) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	if err := s.admin.ExpireRoom(r.Context(), actorID, chi.URLParam(r, "roomID"), req.Reason); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request, actorID string) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.admin.BroadcastChaos(r.Context(), actorID, chi.URLParam(r, "roomID"), req.Message); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminRemoveParticipant(w http.ResponseWriter, r *http.Request, actorID string) {
	var req struct {
		SessionID string `json:"sessionId"`
		Reason    string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.SessionID == "" {
		writeErr(w, r, apperr.E(apperr.KindBadRequest, "sessionId is required"))
		return
	}
	err := s.admin.RemoveParticipant(r.Context(), actorID, req.SessionID, chi.URLParam(r, "participantID"), req.Reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminTerms(w http.ResponseWriter, r *http.Request, actorID string) {
	var req struct {
		Op        string `json:"op"` // add|remove
		Pattern   string `json:"pattern"`
		WholeWord bool   `json:"wholeWord"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	var err error
	switch req.Op {
	case "add", "":
		err = s.admin.AddTerm(r.Context(), actorID, moderation.Term{Pattern: req.Pattern, WholeWord: req.WholeWord})
	case "remove":
		err = s.admin.RemoveTerm(r.Context(), actorID, req.Pattern)
	default:
		err = apperr.Ef(apperr.KindBadRequest, "unknown term op %q", req.Op)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminClearConduct(w http.ResponseWriter, r *http.Request, actorID string) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.PlayerID == "" {
		writeErr(w, r, apperr.E(apperr.KindBadRequest, "playerId is required"))
		return
	}
	if err := s.admin.ClearConduct(r.Context(), actorID, req.PlayerID); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminAssignRole(w http.ResponseWriter, r *http.Request, actorID string) {
	var req struct {
		Role identity.Role `json:"role"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.admin.AssignRole(r.Context(), actorID, chi.URLParam(r, "uid"), req.Role); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
