// SPDX-License-Identifier: MIT

// Package turn owns the canonical turn state machine for one session. The
// engine is synchronous and not safe for concurrent use; the session manager
// serializes all calls and forwards emitted events to the stream hub, which
// preserves the commit order per subscriber.
package turn

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/rules"
)

// Phase is the engine's current position in the turn cycle.
type Phase string

const (
	PhaseWaitingReady  Phase = "waitingReady"
	PhasePreRoll       Phase = "preRoll"
	PhasePostRoll      Phase = "postRoll"
	PhaseResolving     Phase = "resolving"
	PhaseBetweenTurns  Phase = "betweenTurns"
	PhaseMatchComplete Phase = "matchComplete"
)

// Member is one turn-order participant as seen by the engine. The session
// manager recomputes the member set on every seat or ready transition.
type Member struct {
	PlayerID   string
	SeatIndex  int
	IsBot      bool
	Difficulty room.Difficulty
}

// ActiveRoll is the canonical roll snapshot clients must cite when scoring.
type ActiveRoll struct {
	ServerRollID string      `json:"serverRollId"`
	RollIndex    int         `json:"rollIndex"`
	Dice         []rules.Die `json:"dice"`
	RolledAt     time.Time   `json:"rolledAt"`
}

// ScoreEntry is one committed scoring batch. ID is a deterministic hash so
// duplicate submissions deduplicate.
type ScoreEntry struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	RollIndex int       `json:"rollIndex"`
	Selection []string  `json:"selection"`
	Points    int       `json:"points"`
	At        time.Time `json:"at"`
}

// EntryID derives the deterministic score log ID from the scoring facts.
func EntryID(sessionID, playerID string, rollIndex int, selection []string) string {
	fp := append([]string(nil), selection...)
	sort.Strings(fp)
	h := sha256.Sum256([]byte(sessionID + "|" + playerID + "|" + strconv.Itoa(rollIndex) + "|" + strings.Join(fp, ",")))
	return hex.EncodeToString(h[:8])
}

// seat is the engine's per-member game state.
type seat struct {
	member   Member
	pool     []rules.Die
	score    int
	busts    int
	rolls    int
	finished bool
	// scoredThisTurn counts dice scored in the current turn, reset when the
	// seat advances. Drives full-round completion and bot banking.
	scoredThisTurn int
}

func (s *seat) remaining() int {
	return len(rules.RemainingDice(s.pool))
}

// Snapshot is the serializable engine state used for session_state events
// and reconnect re-synchronization.
type Snapshot struct {
	SessionID      string           `json:"sessionId"`
	Phase          Phase            `json:"phase"`
	RoundIndex     int              `json:"roundIndex"`
	RollIndex      int              `json:"rollIndex"`
	ActivePlayerID string           `json:"activePlayerId,omitempty"`
	TurnDeadlineAt *time.Time       `json:"turnDeadlineAt,omitempty"`
	ActiveRoll     *ActiveRoll      `json:"activeRoll,omitempty"`
	TurnOrder      []string         `json:"turnOrder"`
	Standings      []rules.Standing `json:"standings"`
	ScoreLog       []ScoreEntry     `json:"scoreLog"`
}
