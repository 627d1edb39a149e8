// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/profile"
)

// handleHealth serves the public health summary with storage details.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.Info(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"storage": info,
	})
}

// handleIdentity reports the resolved caller identity.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	roles := ident.Roles
	if roles == nil {
		roles = []identity.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"playerId":     ident.PlayerID,
		"identityKind": ident.Kind,
		"displayName":  ident.DisplayName,
		"roles":        roles,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := requireSelf(ident, chi.URLParam(r, "playerID")); err != nil {
		writeErr(w, r, err)
		return
	}
	var patch profile.Patch
	if err := decodeBody(r, &patch); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := s.profiles.Upsert(r.Context(), ident, patch)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSubmitScores(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	playerID := chi.URLParam(r, "playerID")
	if err := requireSelf(ident, playerID); err != nil {
		writeErr(w, r, err)
		return
	}
	var batch []profile.ScoreRecord
	if err := decodeBody(r, &batch); err != nil {
		writeErr(w, r, err)
		return
	}
	accepted, err := s.profiles.SubmitScores(r.Context(), playerID, batch)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, next, err := s.profiles.QueryLeaderboard(r.Context(), profile.LeaderboardQuery{
		Mode:       q.Get("mode"),
		Difficulty: q.Get("difficulty"),
		Window:     q.Get("window"),
		Cursor:     q.Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []profile.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"cursor":  next,
	})
}
