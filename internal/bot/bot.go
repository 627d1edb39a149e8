// SPDX-License-Identifier: MIT

// Package bot decides turn actions for AI participants. It is a pure policy
// library: the turn engine asks it what to do on each tick and applies the
// decision through the same transitions a human action would take.
//
// Decisions are deterministic for a given decision seed, so a session replay
// with the same botSeed reproduces every bot move.
package bot

import (
	"fmt"
	"sort"
	"time"

	"github.com/ManuGH/lowroll/internal/prng"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/rules"
)

// Action is what the bot wants to do this tick.
type Action string

const (
	ActionRoll  Action = "roll"
	ActionScore Action = "score"
	ActionPass  Action = "pass"
)

// Decision is the policy output. Selection is set only for ActionScore.
type Decision struct {
	Action    Action
	Selection []string
}

// Phase is the subset of turn phases a bot acts in.
type Phase string

const (
	PhasePreRoll  Phase = "preRoll"
	PhasePostRoll Phase = "postRoll"
)

// View is the slice of turn state a policy sees.
type View struct {
	Phase Phase
	// Dice is the current active roll, empty in preRoll.
	Dice []rules.Die
	// ScoredThisTurn counts dice the bot has scored in its current turn,
	// used by conservative policies in full-round mode.
	ScoredThisTurn int
	// FullRound is true when the room runs fullTurnRound mode, where passing
	// hands the seat over instead of being meaningless.
	FullRound bool
	RollIndex int
}

// ThinkDelay is the tempo per difficulty: easier bots play slower so humans
// can follow along.
func ThinkDelay(d room.Difficulty) time.Duration {
	switch d {
	case room.DifficultyEasy:
		return 2 * time.Second
	case room.DifficultyHard:
		return 800 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// DecisionSeed derives the per-tick policy seed. Separate from the dice seed
// so bot randomness never perturbs roll outcomes.
func DecisionSeed(botSeed, participantID string, rollIndex int) string {
	return fmt.Sprintf("%s-%s-%d", botSeed, participantID, rollIndex)
}

// Decide returns the policy's action for the given view. rng must be seeded
// with DecisionSeed for reproducibility.
func Decide(view View, difficulty room.Difficulty, rng *prng.PRNG) Decision {
	switch view.Phase {
	case PhasePreRoll:
		return decidePreRoll(view, difficulty)
	case PhasePostRoll:
		return decidePostRoll(view, difficulty, rng)
	default:
		return Decision{Action: ActionPass}
	}
}

func decidePreRoll(view View, difficulty room.Difficulty) Decision {
	// In full-round mode a conservative bot banks its turn after a couple of
	// scored dice rather than pushing on.
	if view.FullRound && difficulty == room.DifficultyHard && view.ScoredThisTurn >= 2 {
		return Decision{Action: ActionPass}
	}
	return Decision{Action: ActionRoll}
}

func decidePostRoll(view View, difficulty room.Difficulty, rng *prng.PRNG) Decision {
	remaining := rules.RemainingDice(view.Dice)
	if len(remaining) == 0 {
		return Decision{Action: ActionPass}
	}

	// Rank candidates by points ascending; index 0 is the optimal pick.
	sort.Slice(remaining, func(i, j int) bool {
		pi, pj := rules.Points(remaining[i]), rules.Points(remaining[j])
		if pi != pj {
			return pi < pj
		}
		return remaining[i].ID < remaining[j].ID
	})

	pick := remaining[0]
	switch difficulty {
	case room.DifficultyEasy:
		// One in five picks is a genuine mistake: any non-optimal die.
		if len(remaining) > 1 && rng.NextFloat() < 0.20 {
			pick = remaining[rng.Roll(len(remaining)-1)]
		}
	case room.DifficultyNormal:
		// Mild variance: occasionally take the second-best die.
		if len(remaining) > 1 && rng.NextFloat() < 0.10 {
			pick = remaining[1]
		}
	case room.DifficultyHard:
		// Optimal single-die pick, no variance.
	}
	return Decision{Action: ActionScore, Selection: []string{pick.ID}}
}
