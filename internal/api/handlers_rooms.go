// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/session"
)

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	minPlayers, _ := strconv.Atoi(q.Get("minPlayers"))
	rooms, next := s.registry.List(room.ListFilter{
		Difficulty: room.Difficulty(q.Get("difficulty")),
		Status:     room.Status(q.Get("status")),
		TurnMode:   room.TurnMode(q.Get("type")),
		MinPlayers: minPlayers,
		Query:      q.Get("q"),
	}, q.Get("cursor"), limit)
	if rooms == nil {
		rooms = []room.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms":  rooms,
		"cursor": next,
	})
}

type createRoomRequest struct {
	Name       string          `json:"name"`
	Difficulty room.Difficulty `json:"difficulty"`
	Visibility room.Visibility `json:"visibility"`
	MaxPlayers int             `json:"maxPlayers"`
	TurnMode   room.TurnMode   `json:"turnMode"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if _, err := s.resolve(r); err != nil {
		writeErr(w, r, err)
		return
	}
	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	created, err := s.registry.Create(r.Context(), room.CreateOptions{
		Name:       req.Name,
		Difficulty: req.Difficulty,
		Visibility: req.Visibility,
		MaxPlayers: req.MaxPlayers,
		TurnMode:   req.TurnMode,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// joinRequest is shared by the code, public and session join paths.
type joinRequest struct {
	Bots *session.BotOptions `json:"bots,omitempty"`
}

func (s *Server) handleJoinByCode(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
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
	admitted, err := s.registry.AdmitByCode(chi.URLParam(r, "code"), ident.PlayerID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.sessions.Join(r.Context(), admitted.ID, ident, req.Bots)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleJoinPublic matchmakes into a listed public room with a free seat.
func (s *Server) handleJoinPublic(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolve(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req struct {
		joinRequest
		Difficulty room.Difficulty `json:"difficulty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	matched, err := s.registry.JoinPublic(room.ListFilter{Difficulty: req.Difficulty}, ident.PlayerID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.sessions.Join(r.Context(), matched.ID, ident, req.Bots)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
