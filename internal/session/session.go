// SPDX-License-Identifier: MIT

// Package session manages the live state of one room: its participants, the
// turn engine, liveness, and the bridge into the stream hub. The manager
// serializes all mutation per session behind the session mutex; the turn
// engine is only ever called with that mutex held.
package session

import (
	"sync"
	"time"

	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/turn"
)

// Participant is one player (human or bot) attached to a session.
type Participant struct {
	PlayerID        string        `json:"playerId"`
	SessionID       string        `json:"sessionId"`
	DisplayName     string        `json:"displayName"`
	IdentityKind    identity.Kind `json:"identityKind"`
	SeatIndex       int           `json:"seatIndex"`
	IsSeated        bool          `json:"isSeated"`
	IsReady         bool          `json:"isReady"`
	IsBot           bool          `json:"isBot"`
	Score           int           `json:"score"`
	LastHeartbeatAt time.Time     `json:"lastHeartbeatAt"`
	ConnectionID    string        `json:"connectionId,omitempty"`
	// Difficulty is set for bots only.
	Difficulty room.Difficulty `json:"difficulty,omitempty"`
}

// Session is the live state for one room. All fields behind mu.
type Session struct {
	ID     string
	RoomID string

	mu           sync.Mutex
	engine       *turn.Engine
	participants map[string]*Participant
	createdAt    time.Time
	// queueNextAt schedules the automatic round restart after completion.
	queueNextAt time.Time
}

// StatePayload is the session_state event body: the engine snapshot plus the
// participant roster.
type StatePayload struct {
	RoomID       string        `json:"roomId"`
	Turn         turn.Snapshot `json:"turn"`
	Participants []Participant `json:"participants"`
}

// participantViewsLocked snapshots the roster with scores synced from the
// engine standings.
func (s *Session) participantViewsLocked() []Participant {
	standings := s.engine.Standings()
	scores := make(map[string]int, len(standings))
	for _, st := range standings {
		scores[st.PlayerID] = st.Score
	}
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		cp := *p
		if sc, ok := scores[p.PlayerID]; ok {
			cp.Score = sc
		}
		out = append(out, cp)
	}
	sortParticipants(out)
	return out
}

func sortParticipants(ps []Participant) {
	// Seated first in seat order, then the rest by player ID.
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && participantBefore(ps[j], ps[j-1]); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func participantBefore(a, b Participant) bool {
	if a.IsSeated != b.IsSeated {
		return a.IsSeated
	}
	if a.IsSeated && a.SeatIndex != b.SeatIndex {
		return a.SeatIndex < b.SeatIndex
	}
	return a.PlayerID < b.PlayerID
}
