// SPDX-License-Identifier: MIT

package rules

import (
	"errors"
	"testing"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d6Pool(values ...int) []Die {
	dice := make([]Die, len(values))
	for i, v := range values {
		dice[i] = Die{ID: "die-" + string(rune('0'+i)), Kind: D6, Value: v, InPlay: true}
	}
	return dice
}

func TestPointsIsMaxFaceMinusValue(t *testing.T) {
	for kind, faces := range map[DieKind]int{D4: 4, D6: 6, D8: 8, D10: 10, D12: 12, D20: 20, D100: 100} {
		for v := 1; v <= faces; v++ {
			p := Points(Die{Kind: kind, Value: v})
			require.Equal(t, faces-v, p)
			require.GreaterOrEqual(t, p, 0)
			require.LessOrEqual(t, p, faces-1)
		}
	}
}

// Solo scoring against the documented d6 example: a 6 scores 0, a 1 scores 5,
// selecting both scores 5 total.
func TestScoreSelectionSoloExample(t *testing.T) {
	dice := d6Pool(3, 5, 1, 6, 2, 4)

	six, err := ScoreSelection(dice, []string{"die-3"})
	require.NoError(t, err)
	assert.Equal(t, 0, six)

	one, err := ScoreSelection(dice, []string{"die-2"})
	require.NoError(t, err)
	assert.Equal(t, 5, one)

	both, err := ScoreSelection(dice, []string{"die-3", "die-2"})
	require.NoError(t, err)
	assert.Equal(t, 5, both)
}

func TestScoreSelectionRejectsEmpty(t *testing.T) {
	_, err := ScoreSelection(d6Pool(1, 2), nil)
	assert.True(t, errors.Is(err, apperr.E(apperr.KindInvalidSelection, "")))
}

func TestScoreSelectionRejectsUnknownDie(t *testing.T) {
	_, err := ScoreSelection(d6Pool(1, 2), []string{"die-9"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidSelection, apperr.KindOf(err))
}

func TestScoreSelectionRejectsScoredAndOutOfPlay(t *testing.T) {
	dice := d6Pool(1, 2, 3)
	dice[0].Scored = true
	dice[1].InPlay = false

	_, err := ScoreSelection(dice, []string{dice[0].ID})
	assert.Equal(t, apperr.KindInvalidSelection, apperr.KindOf(err))

	_, err = ScoreSelection(dice, []string{dice[1].ID})
	assert.Equal(t, apperr.KindInvalidSelection, apperr.KindOf(err))
}

func TestScoreSelectionRejectsDuplicates(t *testing.T) {
	_, err := ScoreSelection(d6Pool(4, 4), []string{"die-0", "die-0"})
	assert.Equal(t, apperr.KindInvalidSelection, apperr.KindOf(err))
}

func TestBuildPool(t *testing.T) {
	pool := BuildPool(PoolConfig{Kind: D6, Count: 6})
	require.Len(t, pool, 6)
	for i, d := range pool {
		assert.Equal(t, D6, d.Kind)
		assert.True(t, d.InPlay)
		assert.False(t, d.Scored)
		assert.NotEmpty(t, d.ID, "die %d", i)
	}

	assert.Nil(t, BuildPool(PoolConfig{Kind: "d7", Count: 6}))
	assert.Nil(t, BuildPool(PoolConfig{Kind: D6, Count: 0}))
}

func TestBestSingleDie(t *testing.T) {
	dice := d6Pool(3, 6, 1)
	id, ok := BestSingleDie(dice)
	require.True(t, ok)
	// The 6 scores zero points, the best possible auto-pick.
	assert.Equal(t, "die-1", id)

	for i := range dice {
		dice[i].Scored = true
	}
	_, ok = BestSingleDie(dice)
	assert.False(t, ok)
}

func TestHasScorableDice(t *testing.T) {
	dice := d6Pool(2, 5)
	assert.True(t, HasScorableDice(dice))
	dice[0].Scored = true
	dice[1].InPlay = false
	assert.False(t, HasScorableDice(dice))
}

func TestStandingTieBreaks(t *testing.T) {
	// Lowest score wins outright.
	assert.True(t, Less(Standing{PlayerID: "a", Score: 3}, Standing{PlayerID: "b", Score: 5}))
	// Equal scores fall through to fewest busts.
	assert.True(t, Less(Standing{PlayerID: "a", Score: 3, Busts: 0}, Standing{PlayerID: "b", Score: 3, Busts: 1}))
	// Then fewest rolls.
	assert.True(t, Less(Standing{PlayerID: "a", Score: 3, Rolls: 4}, Standing{PlayerID: "b", Score: 3, Rolls: 6}))
	// Then player ID for a stable order.
	assert.True(t, Less(Standing{PlayerID: "a", Score: 3}, Standing{PlayerID: "b", Score: 3}))
}
