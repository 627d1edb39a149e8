// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/rules"
	"github.com/ManuGH/lowroll/internal/store"
	"github.com/ManuGH/lowroll/internal/stream"
	"github.com/ManuGH/lowroll/internal/turn"
)

type stubVerifier struct {
	id  identity.Identity
	err error
}

func (v stubVerifier) Verify(string) (identity.Identity, error) { return v.id, v.err }

type fixture struct {
	registry *room.Registry
	hub      *stream.Hub
	mgr      *Manager
	clock    *time.Time
	verifier *stubVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), "session-test")
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		registry: room.NewRegistry(st),
		hub:      stream.NewHub(),
		clock:    &now,
		verifier: &stubVerifier{},
	}
	f.mgr = NewManager(f.registry, f.hub, f.verifier, Options{
		TurnTimeout:    30 * time.Second,
		Liveness:       45 * time.Second,
		QueueNextDelay: 60 * time.Second,
		Pool:           rules.PoolConfig{Kind: rules.D6, Count: 1},
		Now:            func() time.Time { return *f.clock },
	})
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *fixture) newRoom(t *testing.T, opts room.CreateOptions) *room.Room {
	t.Helper()
	if opts.Difficulty == "" {
		opts.Difficulty = room.DifficultyNormal
	}
	if opts.Visibility == "" {
		opts.Visibility = room.VisibilityPublic
	}
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = 4
	}
	r, err := f.registry.Create(context.Background(), opts)
	require.NoError(t, err)
	return r
}

func anon(playerID string) identity.Identity {
	return identity.Identity{PlayerID: playerID, Kind: identity.KindAnonymous}
}

func (f *fixture) joinSeatedReady(t *testing.T, roomID, playerID string) *JoinResult {
	t.Helper()
	res, err := f.mgr.Join(context.Background(), roomID, anon(playerID), nil)
	require.NoError(t, err)
	_, err = f.mgr.UpdateParticipantState(res.SessionID, playerID, OpSit)
	require.NoError(t, err)
	_, err = f.mgr.UpdateParticipantState(res.SessionID, playerID, OpReady)
	require.NoError(t, err)
	return res
}

func TestJoinAndReconnect(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})

	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)
	assert.False(t, res.Reconnected)
	assert.False(t, res.Participant.IsSeated)
	assert.NotEmpty(t, res.StreamTicket)

	// Tickets redeem exactly once.
	sess, pid, err := f.mgr.Redeem(res.StreamTicket)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)
	assert.Equal(t, "p1", pid)
	_, _, err = f.mgr.Redeem(res.StreamTicket)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	again, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)
	assert.True(t, again.Reconnected)
	assert.Equal(t, res.SessionID, again.SessionID)
}

func TestSoloHumanStartsRound(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})

	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)

	_, err = f.mgr.UpdateParticipantState(res.SessionID, "p1", OpSit)
	require.NoError(t, err)

	// Ready before seated is rejected for others; seated+ready solo starts.
	snap, err := f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhaseWaitingReady, snap.Turn.Phase)

	_, err = f.mgr.UpdateParticipantState(res.SessionID, "p1", OpReady)
	require.NoError(t, err)

	snap, err = f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhasePreRoll, snap.Turn.Phase)
	assert.Equal(t, "p1", snap.Turn.ActivePlayerID)

	got, err := f.registry.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusActive, got.Status)
}

func TestRoundWaitsForAllSeatedHumans(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})

	res1, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)
	_, err = f.mgr.Join(context.Background(), r.ID, anon("p2"), nil)
	require.NoError(t, err)

	for _, pid := range []string{"p1", "p2"} {
		_, err = f.mgr.UpdateParticipantState(res1.SessionID, pid, OpSit)
		require.NoError(t, err)
	}
	_, err = f.mgr.UpdateParticipantState(res1.SessionID, "p1", OpReady)
	require.NoError(t, err)

	snap, err := f.mgr.Snapshot(res1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhaseWaitingReady, snap.Turn.Phase, "p2 seated but not ready blocks the start")

	_, err = f.mgr.UpdateParticipantState(res1.SessionID, "p2", OpReady)
	require.NoError(t, err)
	snap, err = f.mgr.Snapshot(res1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhasePreRoll, snap.Turn.Phase)
}

func TestReadyRequiresSeat(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)

	_, err = f.mgr.UpdateParticipantState(res.SessionID, "p1", OpReady)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestBotsSeededAndPrunedWithLastHuman(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})

	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), &BotOptions{Count: 2})
	require.NoError(t, err)

	ps, err := f.mgr.Participants(res.SessionID)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	bots := 0
	for _, p := range ps {
		if p.IsBot {
			bots++
			assert.True(t, p.IsSeated)
			assert.True(t, p.IsReady)
			assert.Equal(t, room.DifficultyNormal, p.Difficulty, "bots inherit the room difficulty")
		}
	}
	assert.Equal(t, 2, bots)

	require.NoError(t, f.mgr.Leave(res.SessionID, "p1", "quit"))
	ps, err = f.mgr.Participants(res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, ps, "bots do not outlive the last human")
}

func TestTurnFlowThroughManager(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res := f.joinSeatedReady(t, r.ID, "p1")

	roll, err := f.mgr.RollIntent(res.SessionID, "p1")
	require.NoError(t, err)
	require.NotNil(t, roll)

	dieID, ok := rules.BestSingleDie(roll.Dice)
	require.True(t, ok)
	entry, err := f.mgr.Score(res.SessionID, "p1", roll.ServerRollID, []string{dieID})
	require.NoError(t, err)
	assert.Equal(t, "p1", entry.PlayerID)

	// One die per player: the round is complete.
	snap, err := f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhaseMatchComplete, snap.Turn.Phase)
}

func TestHeartbeatPruneRemovesStaleParticipant(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res := f.joinSeatedReady(t, r.ID, "p1")
	f.joinSeatedReady(t, r.ID, "p2")

	f.advance(20 * time.Second)
	require.NoError(t, f.mgr.Heartbeat(res.SessionID, "p2"))

	// p1 misses the 45s window, p2 stays.
	f.advance(30 * time.Second)
	f.mgr.SweepOnce(context.Background(), *f.clock)

	ps, err := f.mgr.Participants(res.SessionID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "p2", ps[0].PlayerID)

	// The active turn passed to the surviving player.
	snap, err := f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "p2", snap.Turn.ActivePlayerID)
}

func TestRoomExpiryClosesStreamsAndTombstones(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)

	sub := f.hub.Subscribe(r.ID, "p1", nil)
	require.NoError(t, f.registry.Expire(context.Background(), r.ID, "admin"))

	var final *stream.Event
	for ev := range sub.C() {
		final = &ev
	}
	require.NotNil(t, final)
	assert.Equal(t, stream.EventRoomClosed, final.Type)
	assert.Equal(t, stream.CloseRoomClosed, sub.Reason())

	_, err = f.mgr.Get(res.SessionID)
	assert.Equal(t, apperr.KindRoomClosed, apperr.KindOf(err))
	_, err = f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	assert.Equal(t, apperr.KindRoomClosed, apperr.KindOf(err))
}

func TestQueueNextRestartsAfterDelay(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res := f.joinSeatedReady(t, r.ID, "p1")

	roll, err := f.mgr.RollIntent(res.SessionID, "p1")
	require.NoError(t, err)
	dieID, _ := rules.BestSingleDie(roll.Dice)
	_, err = f.mgr.Score(res.SessionID, "p1", roll.ServerRollID, []string{dieID})
	require.NoError(t, err)

	snap, err := f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	require.Equal(t, turn.PhaseMatchComplete, snap.Turn.Phase)

	// Not yet: the post-round delay has not elapsed. The client keeps
	// heartbeating while the results screen is up.
	f.advance(30 * time.Second)
	require.NoError(t, f.mgr.Heartbeat(res.SessionID, "p1"))
	f.mgr.SweepOnce(context.Background(), *f.clock)
	snap, _ = f.mgr.Snapshot(res.SessionID)
	assert.Equal(t, turn.PhaseMatchComplete, snap.Turn.Phase)

	f.advance(31 * time.Second)
	f.mgr.SweepOnce(context.Background(), *f.clock)
	snap, _ = f.mgr.Snapshot(res.SessionID)
	assert.Equal(t, turn.PhasePreRoll, snap.Turn.Phase, "round auto-restarted")
	assert.Equal(t, 2, snap.Turn.RoundIndex)
}

func TestSweepPrunesSilentHumanInsteadOfRestarting(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res := f.joinSeatedReady(t, r.ID, "p1")

	roll, err := f.mgr.RollIntent(res.SessionID, "p1")
	require.NoError(t, err)
	dieID, _ := rules.BestSingleDie(roll.Dice)
	_, err = f.mgr.Score(res.SessionID, "p1", roll.ServerRollID, []string{dieID})
	require.NoError(t, err)

	// No heartbeats through the entire post-round delay: the player is gone,
	// so the sweep removes them and no new round starts.
	f.advance(61 * time.Second)
	f.mgr.SweepOnce(context.Background(), *f.clock)

	snap, err := f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhaseMatchComplete, snap.Turn.Phase, "no restart without a live human")
	assert.Empty(t, snap.Participants)
}

func TestQueueNextExplicitRestart(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res := f.joinSeatedReady(t, r.ID, "p1")

	assert.Equal(t, apperr.KindWrongPhase, apperr.KindOf(f.mgr.QueueNext(res.SessionID)), "round still running")

	roll, err := f.mgr.RollIntent(res.SessionID, "p1")
	require.NoError(t, err)
	dieID, _ := rules.BestSingleDie(roll.Dice)
	_, err = f.mgr.Score(res.SessionID, "p1", roll.ServerRollID, []string{dieID})
	require.NoError(t, err)

	require.NoError(t, f.mgr.QueueNext(res.SessionID))
	snap, err := f.mgr.Snapshot(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, turn.PhasePreRoll, snap.Turn.Phase)
}

func TestRefreshAuthUpgradesAnonymous(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)

	f.verifier.id = identity.Identity{
		PlayerID:    "fed-abcd1234",
		Kind:        identity.KindFederated,
		DisplayName: "Avery",
	}
	ident, err := f.mgr.RefreshAuth(res.SessionID, "p1", "some-token")
	require.NoError(t, err)
	assert.Equal(t, identity.KindFederated, ident.Kind)

	ps, err := f.mgr.Participants(res.SessionID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "p1", ps[0].PlayerID, "upgrade keeps the player ID")
	assert.Equal(t, identity.KindFederated, ps[0].IdentityKind)
	assert.Equal(t, "Avery", ps[0].DisplayName)
}

func TestRefreshAuthRejectsForeignToken(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})
	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), nil)
	require.NoError(t, err)

	_, err = f.mgr.UpdateParticipantState(res.SessionID, "p1", OpSit)
	require.NoError(t, err)

	// Once federated, a token for a different player is refused.
	f.verifier.id = identity.Identity{PlayerID: "fed-1", Kind: identity.KindFederated}
	_, err = f.mgr.RefreshAuth(res.SessionID, "p1", "t1")
	require.NoError(t, err)

	f.verifier.id = identity.Identity{PlayerID: "fed-2", Kind: identity.KindFederated}
	_, err = f.mgr.RefreshAuth(res.SessionID, "p1", "t2")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSitFailsWhenSeatsExhausted(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{MaxPlayers: 2})

	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), &BotOptions{Count: 2})
	require.NoError(t, err)

	_, err = f.mgr.UpdateParticipantState(res.SessionID, "p1", OpSit)
	assert.Equal(t, apperr.KindRoomFull, apperr.KindOf(err))
}

func TestOccupancyCountsSeatedHumansOnly(t *testing.T) {
	f := newFixture(t)
	r := f.newRoom(t, room.CreateOptions{})

	humans, seated := f.mgr.Occupancy(r.ID)
	assert.Zero(t, humans)
	assert.False(t, seated)

	res, err := f.mgr.Join(context.Background(), r.ID, anon("p1"), &BotOptions{Count: 1})
	require.NoError(t, err)
	humans, seated = f.mgr.Occupancy(r.ID)
	assert.Zero(t, humans, "unseated humans and bots do not count")
	assert.False(t, seated)

	_, err = f.mgr.UpdateParticipantState(res.SessionID, "p1", OpSit)
	require.NoError(t, err)
	humans, seated = f.mgr.Occupancy(r.ID)
	assert.Equal(t, 1, humans)
	assert.True(t, seated)
}
