// SPDX-License-Identifier: MIT

package turn

import (
	"time"

	"github.com/ManuGH/lowroll/internal/rules"
)

// Event payloads broadcast by the engine. The session manager forwards them
// to the stream hub in the exact order the engine committed them.

// TurnStartPayload announces the active player and deadline for a new turn.
type TurnStartPayload struct {
	SessionID      string    `json:"sessionId"`
	RoundIndex     int       `json:"roundIndex"`
	ActivePlayerID string    `json:"activePlayerId"`
	TurnDeadlineAt time.Time `json:"turnDeadlineAt"`
}

// RollResultPayload carries the canonical server roll.
type RollResultPayload struct {
	SessionID      string      `json:"sessionId"`
	ActivePlayerID string      `json:"activePlayerId"`
	Roll           *ActiveRoll `json:"roll"`
}

// ScoreCommittedPayload carries a committed score log entry.
type ScoreCommittedPayload struct {
	SessionID string     `json:"sessionId"`
	Entry     ScoreEntry `json:"entry"`
}

// TurnEndPayload reports why a turn ended and what it was worth.
type TurnEndPayload struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
	// Reason is one of scored, passed, busted, timeout, left.
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// DeadlineWarningPayload is broadcast once per turn shortly before timeout.
type DeadlineWarningPayload struct {
	SessionID      string    `json:"sessionId"`
	ActivePlayerID string    `json:"activePlayerId"`
	TurnDeadlineAt time.Time `json:"turnDeadlineAt"`
}

// MatchCompletePayload carries final standings, best first. Delivered as a
// system_notification with kind "match_complete".
type MatchCompletePayload struct {
	Kind       string           `json:"kind"`
	SessionID  string           `json:"sessionId"`
	RoundIndex int              `json:"roundIndex"`
	WinnerID   string           `json:"winnerId"`
	Standings  []rules.Standing `json:"standings"`
	Scores     map[string]int   `json:"scores"`
}
