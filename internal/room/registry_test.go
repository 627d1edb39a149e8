// SPDX-License-Identifier: MIT

package room

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), "room-test")
	require.NoError(t, err)
	return NewRegistry(st)
}

func mustCreate(t *testing.T, g *Registry, opts CreateOptions) *Room {
	t.Helper()
	if opts.Difficulty == "" {
		opts.Difficulty = DifficultyNormal
	}
	if opts.Visibility == "" {
		opts.Visibility = VisibilityPublic
	}
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = 4
	}
	r, err := g.Create(context.Background(), opts)
	require.NoError(t, err)
	return r
}

func TestCreateValidation(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()

	_, err := g.Create(ctx, CreateOptions{Difficulty: "nightmare", Visibility: VisibilityPublic, MaxPlayers: 4})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = g.Create(ctx, CreateOptions{Difficulty: DifficultyEasy, Visibility: "hidden", MaxPlayers: 4})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = g.Create(ctx, CreateOptions{Difficulty: DifficultyEasy, Visibility: VisibilityPublic, MaxPlayers: 1})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	r := mustCreate(t, g, CreateOptions{Difficulty: DifficultyEasy})
	assert.Equal(t, StatusLobby, r.Status)
	assert.Equal(t, TurnRollByRoll, r.TurnMode, "default turn mode")
	assert.NotEmpty(t, r.BotSeed)
	assert.NotEmpty(t, r.SessionID)
}

func TestListFiltersAndPages(t *testing.T) {
	g := newTestRegistry(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	g.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	}

	mustCreate(t, g, CreateOptions{Name: "a", Difficulty: DifficultyEasy})
	mustCreate(t, g, CreateOptions{Name: "b", Difficulty: DifficultyHard})
	mustCreate(t, g, CreateOptions{Name: "c", Difficulty: DifficultyEasy})
	mustCreate(t, g, CreateOptions{Name: "p", Difficulty: DifficultyEasy, Visibility: VisibilityPrivate})

	all, next := g.List(ListFilter{}, "", 10)
	assert.Len(t, all, 3, "private rooms are never listed")
	assert.Empty(t, next)
	assert.Equal(t, "c", all[0].Name, "newest first")

	easy, _ := g.List(ListFilter{Difficulty: DifficultyEasy}, "", 10)
	assert.Len(t, easy, 2)

	page1, cursor := g.List(ListFilter{}, "", 2)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)
	page2, cursor2 := g.List(ListFilter{}, cursor, 2)
	require.Len(t, page2, 1)
	assert.Empty(t, cursor2)
	assert.NotEqual(t, page1[1].ID, page2[0].ID)
}

func TestListMatchesModeSizeAndName(t *testing.T) {
	g := newTestRegistry(t)
	mustCreate(t, g, CreateOptions{Name: "Casual corner", Difficulty: DifficultyEasy, MaxPlayers: 2})
	mustCreate(t, g, CreateOptions{Name: "High stakes", Difficulty: DifficultyHard, MaxPlayers: 6, TurnMode: TurnFullRound})

	byMode, _ := g.List(ListFilter{TurnMode: TurnFullRound}, "", 10)
	require.Len(t, byMode, 1)
	assert.Equal(t, "High stakes", byMode[0].Name)

	roomy, _ := g.List(ListFilter{MinPlayers: 4}, "", 10)
	require.Len(t, roomy, 1)
	assert.Equal(t, "High stakes", roomy[0].Name)

	byName, _ := g.List(ListFilter{Query: "STAKES"}, "", 10)
	assert.Len(t, byName, 1, "name search is case-insensitive")
	none, _ := g.List(ListFilter{Query: "poker"}, "", 10)
	assert.Empty(t, none)
}

func TestAdmitEnforcesBansClosureCapacity(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, CreateOptions{MaxPlayers: 2})

	_, err := g.Admit(r.ID, "p1")
	require.NoError(t, err)

	require.NoError(t, g.Ban(r.ID, "p2"))
	_, err = g.Admit(r.ID, "p2")
	assert.Equal(t, apperr.KindRoomBanned, apperr.KindOf(err))

	g.SetOccupancy(func(string) (int, bool) { return 2, true })
	_, err = g.Admit(r.ID, "p3")
	assert.Equal(t, apperr.KindRoomFull, apperr.KindOf(err))

	require.NoError(t, g.Expire(ctx, r.ID, "test"))
	_, err = g.Admit(r.ID, "p1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAdmitByCodeFindsPrivateRooms(t *testing.T) {
	g := newTestRegistry(t)
	r := mustCreate(t, g, CreateOptions{Visibility: VisibilityPrivate})

	// Codes arrive hand-typed: whitespace and case are forgiven.
	got, err := g.AdmitByCode("  "+strings.ToLower(r.ID)+" ", "p1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = g.AdmitByCode("NOPE42", "p1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Private rooms never show up in the public list.
	listed, _ := g.List(ListFilter{}, "", 10)
	assert.Empty(t, listed)
}

func TestJoinPublicPrefersActiveRoomsWithSeats(t *testing.T) {
	g := newTestRegistry(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	g.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	}

	older := mustCreate(t, g, CreateOptions{Difficulty: DifficultyEasy})
	newer := mustCreate(t, g, CreateOptions{Difficulty: DifficultyEasy})

	got, err := g.JoinPublic(ListFilter{Difficulty: DifficultyEasy}, "p1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID, "most recently active room wins")

	// Full rooms fall through to the next candidate.
	g.SetOccupancy(func(roomID string) (int, bool) {
		if roomID == newer.ID {
			return 4, true
		}
		return 0, false
	})
	got, err = g.JoinPublic(ListFilter{Difficulty: DifficultyEasy}, "p1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	_, err = g.JoinPublic(ListFilter{Difficulty: DifficultyHard}, "p1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestExpireFiresCallbackOnce(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r := mustCreate(t, g, CreateOptions{})

	var calls int
	g.SetOnExpired(func(room *Room, reason string) {
		calls++
		assert.Equal(t, r.ID, room.ID)
		assert.Equal(t, "manual", reason)
	})

	require.NoError(t, g.Expire(ctx, r.ID, "manual"))
	require.NoError(t, g.Expire(ctx, r.ID, "manual"), "second expire is a no-op")
	assert.Equal(t, 1, calls)
	assert.Zero(t, g.Count())
}

func TestSweepOnceSkipsSeatedRooms(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	idle := mustCreate(t, g, CreateOptions{Name: "idle"})
	seated := mustCreate(t, g, CreateOptions{Name: "seated"})

	g.SetOccupancy(func(roomID string) (int, bool) {
		return 1, roomID == seated.ID
	})

	expired := g.SweepOnce(ctx, base.Add(10*time.Minute), 5*time.Minute)
	assert.Equal(t, 1, expired)
	_, err := g.Get(idle.ID)
	assert.Error(t, err)
	_, err = g.Get(seated.ID)
	assert.NoError(t, err)
}

func TestSweepRespectsThreshold(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	r := mustCreate(t, g, CreateOptions{})
	assert.Zero(t, g.SweepOnce(ctx, base.Add(time.Minute), 5*time.Minute))

	// Activity resets the clock.
	g.now = func() time.Time { return base.Add(4 * time.Minute) }
	g.Touch(r.ID)
	assert.Zero(t, g.SweepOnce(ctx, base.Add(6*time.Minute), 5*time.Minute))
	assert.Equal(t, 1, g.SweepOnce(ctx, base.Add(10*time.Minute), 5*time.Minute))
}

func TestEnsureSeededCoversEveryDifficulty(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()

	created := g.EnsureSeeded(ctx)
	assert.Len(t, created, 3)

	// Already covered: idempotent.
	assert.Empty(t, g.EnsureSeeded(ctx))

	// Expiring one difficulty re-seeds just that one.
	for _, r := range created {
		if r.Difficulty == DifficultyHard {
			require.NoError(t, g.Expire(ctx, r.ID, "test"))
		}
	}
	reseeded := g.EnsureSeeded(ctx)
	require.Len(t, reseeded, 1)
	assert.Equal(t, DifficultyHard, reseeded[0].Difficulty)
}

func TestNewCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := NewCode()
		require.Len(t, code, 6)
		for _, c := range code {
			assert.Contains(t, codeAlphabet, string(c))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40, "codes should rarely collide")
}
