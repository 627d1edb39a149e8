// SPDX-License-Identifier: MIT

// Package room owns the lifecycle of multiplayer rooms: creation, listing,
// joining, activity tracking and expiry. Participants and turn state belong
// to the session manager; the registry tracks rooms only and hands out IDs.
package room

import (
	"crypto/rand"
	"time"
)

// Difficulty tunes bot policies and turn timing.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists every valid difficulty, in listing order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyNormal, DifficultyHard}

// ValidDifficulty reports whether d is a known difficulty.
func ValidDifficulty(d Difficulty) bool {
	return d == DifficultyEasy || d == DifficultyNormal || d == DifficultyHard
}

// Visibility controls whether a room is listed publicly.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// TurnMode selects the round structure.
type TurnMode string

const (
	// TurnRollByRoll alternates players after every scored roll.
	TurnRollByRoll TurnMode = "rollByRoll"
	// TurnFullRound lets each player run a complete scoring turn before the
	// seat advances.
	TurnFullRound TurnMode = "fullTurnRound"
)

// Status is the room lifecycle state. Closed rooms never re-open.
type Status string

const (
	StatusLobby  Status = "lobby"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Room is the registry's canonical record.
type Room struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Difficulty     Difficulty `json:"difficulty"`
	Visibility     Visibility `json:"visibility"`
	MaxPlayers     int        `json:"maxPlayers"`
	TurnMode       TurnMode   `json:"turnMode"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	Status         Status     `json:"status"`
	BotSeed        string     `json:"botSeed"`
	SessionID      string     `json:"sessionId"`

	BannedPlayerIDs map[string]bool `json:"bannedPlayerIds,omitempty"`
}

// Banned reports whether the player is banned from this room.
func (r *Room) Banned(playerID string) bool {
	return r.BannedPlayerIDs[playerID]
}

const (
	// MinPlayers and MaxPlayersCap bound the room capacity option.
	MinPlayers    = 2
	MaxPlayersCap = 8

	codeLen      = 6
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789" // no ambiguous glyphs
)

// NewCode returns a short printable room code.
func NewCode() string {
	var buf [codeLen]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand on a supported platform does not fail; fall back to a
		// time-derived code rather than crash room creation.
		ts := time.Now().UnixNano()
		for i := range buf {
			buf[i] = codeAlphabet[int(ts>>uint(i*5))%len(codeAlphabet)]
		}
		return string(buf[:])
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf[:])
}
