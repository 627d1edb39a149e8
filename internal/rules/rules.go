// SPDX-License-Identifier: MIT

// Package rules implements the dice scoring core.
//
// Everything in this package is pure and deterministic: no I/O, no clocks,
// no randomness. Rolling itself happens in the turn engine with a seeded
// generator; rules only validates and scores the outcome.
//
// Scoring contract: points(die) = maxFace(die.Kind) - die.Value, lowest
// cumulative total wins.
package rules

import (
	"strconv"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// DieKind enumerates the supported die shapes.
type DieKind string

const (
	D4   DieKind = "d4"
	D6   DieKind = "d6"
	D8   DieKind = "d8"
	D10  DieKind = "d10"
	D12  DieKind = "d12"
	D20  DieKind = "d20"
	D100 DieKind = "d100"
)

var maxFaces = map[DieKind]int{
	D4: 4, D6: 6, D8: 8, D10: 10, D12: 12, D20: 20, D100: 100,
}

// MaxFace returns the highest face value for the kind, or 0 for unknown kinds.
func MaxFace(kind DieKind) int {
	return maxFaces[kind]
}

// ValidKind reports whether kind is a supported die shape.
func ValidKind(kind DieKind) bool {
	_, ok := maxFaces[kind]
	return ok
}

// Die is a single die inside an active roll.
type Die struct {
	ID     string  `json:"id"`
	Kind   DieKind `json:"kind"`
	Value  int     `json:"value"`
	InPlay bool    `json:"inPlay"`
	Scored bool    `json:"scored"`
}

// Points returns the score contribution of d: maxFace(kind) - value.
func Points(d Die) int {
	return MaxFace(d.Kind) - d.Value
}

// PoolConfig describes the dice pool for a session.
type PoolConfig struct {
	Kind  DieKind
	Count int
}

// BuildPool constructs the initial dice pool. Values are zero until the first
// roll assigns them; IDs are stable positional identifiers.
func BuildPool(cfg PoolConfig) []Die {
	if !ValidKind(cfg.Kind) || cfg.Count <= 0 {
		return nil
	}
	pool := make([]Die, cfg.Count)
	for i := range pool {
		pool[i] = Die{
			ID:     "die-" + strconv.Itoa(i),
			Kind:   cfg.Kind,
			InPlay: true,
		}
	}
	return pool
}

// IsValidSelection reports whether every selected die ID names a die in the
// roll that is in play and not yet scored, and the selection is non-empty.
func IsValidSelection(dice []Die, selection []string) bool {
	_, err := ScoreSelection(dice, selection)
	return err == nil
}

// ScoreSelection computes the total points for the selected dice. It fails
// with an invalid-selection error if the selection is empty, cites an unknown
// die, or cites a die that is out of play or already scored.
func ScoreSelection(dice []Die, selection []string) (int, error) {
	if len(selection) == 0 {
		return 0, apperr.E(apperr.KindInvalidSelection, "selection is empty")
	}
	byID := make(map[string]Die, len(dice))
	for _, d := range dice {
		byID[d.ID] = d
	}
	seen := make(map[string]bool, len(selection))
	total := 0
	for _, id := range selection {
		if seen[id] {
			return 0, apperr.Ef(apperr.KindInvalidSelection, "die %s selected twice", id)
		}
		seen[id] = true
		d, ok := byID[id]
		if !ok {
			return 0, apperr.Ef(apperr.KindInvalidSelection, "die %s is not part of the active roll", id)
		}
		if !d.InPlay {
			return 0, apperr.Ef(apperr.KindInvalidSelection, "die %s is not in play", id)
		}
		if d.Scored {
			return 0, apperr.Ef(apperr.KindInvalidSelection, "die %s is already scored", id)
		}
		total += Points(d)
	}
	return total, nil
}

// RemainingDice returns the dice still in play and unscored.
func RemainingDice(dice []Die) []Die {
	var out []Die
	for _, d := range dice {
		if d.InPlay && !d.Scored {
			out = append(out, d)
		}
	}
	return out
}

// HasScorableDice reports whether any die remains selectable. A player with
// no scorable dice left in the active roll has busted in roll-by-roll mode.
func HasScorableDice(dice []Die) bool {
	return len(RemainingDice(dice)) > 0
}

// BestSingleDie returns the ID of the lowest-point in-play unscored die, used
// by the timeout auto-advance. ok is false when nothing is selectable.
func BestSingleDie(dice []Die) (id string, ok bool) {
	best := -1
	for _, d := range dice {
		if !d.InPlay || d.Scored {
			continue
		}
		if p := Points(d); best == -1 || p < best {
			best = p
			id = d.ID
		}
	}
	return id, best >= 0
}

// Standing is one player's totals used for final ranking.
type Standing struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
	Busts    int    `json:"busts"`
	Rolls    int    `json:"rolls"`
}

// Less orders standings by the win criteria: lowest score, then fewest
// busts, then fewest rolls, then player ID for stability.
func Less(a, b Standing) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.Busts != b.Busts {
		return a.Busts < b.Busts
	}
	if a.Rolls != b.Rolls {
		return a.Rolls < b.Rolls
	}
	return a.PlayerID < b.PlayerID
}
