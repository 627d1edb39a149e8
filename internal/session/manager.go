// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/metrics"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/rules"
	"github.com/ManuGH/lowroll/internal/stream"
	"github.com/ManuGH/lowroll/internal/turn"
)

// TokenVerifier is the slice of the identity service the manager needs for
// auth refresh.
type TokenVerifier interface {
	Verify(token string) (identity.Identity, error)
}

// Options tune the manager. Zero values take defaults.
type Options struct {
	TurnTimeout    time.Duration
	Liveness       time.Duration
	QueueNextDelay time.Duration
	TombstoneTTL   time.Duration
	Pool           rules.PoolConfig
	Now            func() time.Time
}

// Manager owns every live session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session // by session ID
	byRoom   map[string]*Session
	tickets  map[string]ticket
	// tombstones remember recently closed sessions so reconnects get a clean
	// room-closed answer instead of not-found.
	tombstones map[string]time.Time

	registry *room.Registry
	hub      *stream.Hub
	verifier TokenVerifier
	opts     Options
	logger   zerolog.Logger

	participantCount atomic.Int64
}

type ticket struct {
	sessionID     string
	participantID string
	expiresAt     time.Time
}

// NewManager wires the manager to the registry and hub.
func NewManager(registry *room.Registry, hub *stream.Hub, verifier TokenVerifier, opts Options) *Manager {
	if opts.TurnTimeout == 0 {
		opts.TurnTimeout = 30 * time.Second
	}
	if opts.Liveness == 0 {
		opts.Liveness = 45 * time.Second
	}
	if opts.QueueNextDelay == 0 {
		opts.QueueNextDelay = 60 * time.Second
	}
	if opts.TombstoneTTL == 0 {
		opts.TombstoneTTL = time.Minute
	}
	if opts.Pool.Count == 0 {
		opts.Pool = rules.PoolConfig{Kind: rules.D6, Count: 5}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		sessions:   make(map[string]*Session),
		byRoom:     make(map[string]*Session),
		tickets:    make(map[string]ticket),
		tombstones: make(map[string]time.Time),
		registry:   registry,
		hub:        hub,
		verifier:   verifier,
		opts:       opts,
		logger:     log.WithComponent("session"),
	}
	registry.SetOccupancy(m.Occupancy)
	registry.SetOnExpired(m.onRoomExpired)
	return m
}

// scaledTimeout slows easy rooms down and speeds hard rooms up.
func (m *Manager) scaledTimeout(d room.Difficulty) time.Duration {
	switch d {
	case room.DifficultyEasy:
		return m.opts.TurnTimeout * 3 / 2
	case room.DifficultyHard:
		return m.opts.TurnTimeout * 3 / 4
	default:
		return m.opts.TurnTimeout
	}
}

// sessionFor returns the room's live session, creating it on first join.
func (m *Manager) sessionFor(r *room.Room) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byRoom[r.ID]; ok {
		return s
	}
	s := &Session{
		ID:           r.SessionID,
		RoomID:       r.ID,
		participants: make(map[string]*Participant),
		createdAt:    m.opts.Now(),
	}
	s.engine = turn.New(turn.Config{
		SessionID:   s.ID,
		Seed:        s.ID,
		BotSeed:     r.BotSeed,
		Mode:        r.TurnMode,
		Pool:        m.opts.Pool,
		TurnTimeout: m.scaledTimeout(r.Difficulty),
		Now:         m.opts.Now,
		Emit: func(typ stream.EventType, payload any) {
			m.hub.Publish(r.ID, stream.Event{Type: typ, Payload: payload})
			m.registry.Touch(r.ID)
			if note, ok := payload.(turn.MatchCompletePayload); ok && note.Kind == "match_complete" {
				// Engine emits with the session mutex held by our caller.
				s.queueNextAt = m.opts.Now().Add(m.opts.QueueNextDelay)
			}
		},
	})
	m.sessions[s.ID] = s
	m.byRoom[r.ID] = s
	return s
}

// BotOptions seeds AI participants alongside a join.
type BotOptions struct {
	Count      int
	Difficulty room.Difficulty
}

// JoinResult is everything a joining client needs to proceed.
type JoinResult struct {
	SessionID    string      `json:"sessionId"`
	RoomID       string      `json:"roomId"`
	Participant  Participant `json:"participant"`
	StreamTicket string      `json:"streamTicket"`
	Reconnected  bool        `json:"reconnected"`
}

// Join attaches the identity to the room's session. Rejoining with the same
// player ID reconnects to the existing participant instead of duplicating it.
func (m *Manager) Join(ctx context.Context, roomID string, ident identity.Identity, botOpts *BotOptions) (*JoinResult, error) {
	if m.isTombstoned(roomID) {
		return nil, apperr.E(apperr.KindRoomClosed, "room is closed")
	}
	r, err := m.registry.Admit(roomID, ident.PlayerID)
	if err != nil {
		return nil, err
	}
	s := m.sessionFor(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.opts.Now()
	p, reconnected := s.participants[ident.PlayerID]
	if !reconnected {
		name := ident.DisplayName
		if name == "" {
			name = ident.PlayerID
		}
		p = &Participant{
			PlayerID:     ident.PlayerID,
			SessionID:    s.ID,
			DisplayName:  name,
			IdentityKind: ident.Kind,
			SeatIndex:    -1,
		}
		s.participants[p.PlayerID] = p
		m.adjustParticipants(1)
		m.hub.Publish(s.RoomID, stream.Event{Type: stream.EventParticipantJoined, Payload: *p})
	}
	p.LastHeartbeatAt = now
	p.ConnectionID = uuid.NewString()

	if botOpts != nil && botOpts.Count > 0 && !reconnected {
		m.seedBotsLocked(s, r, botOpts, now)
	}

	m.registry.Touch(r.ID)

	t := uuid.NewString()
	m.mu.Lock()
	m.tickets[t] = ticket{sessionID: s.ID, participantID: p.PlayerID, expiresAt: now.Add(time.Minute)}
	m.mu.Unlock()

	return &JoinResult{
		SessionID:    s.ID,
		RoomID:       s.RoomID,
		Participant:  *p,
		StreamTicket: t,
		Reconnected:  reconnected,
	}, nil
}

func (m *Manager) seedBotsLocked(s *Session, r *room.Room, opts *BotOptions, now time.Time) {
	diff := opts.Difficulty
	if diff == "" {
		diff = r.Difficulty
	}
	for i := 0; i < opts.Count; i++ {
		seatIdx, ok := freeSeatLocked(s, r.MaxPlayers)
		if !ok {
			break
		}
		id := "bot-" + uuid.NewString()[:8]
		b := &Participant{
			PlayerID:        id,
			SessionID:       s.ID,
			DisplayName:     "Bot " + id[4:],
			IdentityKind:    identity.KindAnonymous,
			SeatIndex:       seatIdx,
			IsSeated:        true,
			IsReady:         true,
			IsBot:           true,
			Difficulty:      diff,
			LastHeartbeatAt: now,
		}
		s.participants[id] = b
		m.adjustParticipants(1)
		m.hub.Publish(s.RoomID, stream.Event{Type: stream.EventParticipantJoined, Payload: *b})
	}
	m.recomputeLocked(s)
}

// Redeem exchanges a stream ticket for its session and participant. Tickets
// are single-use and short-lived.
func (m *Manager) Redeem(t string) (*Session, string, error) {
	m.mu.Lock()
	info, ok := m.tickets[t]
	delete(m.tickets, t)
	sess := m.sessions[info.sessionID]
	m.mu.Unlock()
	if !ok || m.opts.Now().After(info.expiresAt) || sess == nil {
		return nil, "", apperr.E(apperr.KindUnauthenticated, "invalid or expired stream ticket")
	}
	return sess, info.participantID, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	if _, gone := m.tombstones[sessionID]; gone {
		return nil, apperr.E(apperr.KindRoomClosed, "session is closed")
	}
	return nil, apperr.E(apperr.KindNotFound, "session not found")
}

// Heartbeat refreshes participant liveness and room activity.
func (m *Manager) Heartbeat(sessionID, participantID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return apperr.E(apperr.KindNotFound, "participant not found")
	}
	if now := m.opts.Now(); now.After(p.LastHeartbeatAt) {
		p.LastHeartbeatAt = now
	}
	m.registry.Touch(s.RoomID)
	return nil
}

// RefreshAuth revalidates a participant's token mid-session. An anonymous
// participant presenting a federated token upgrades in place, keeping its
// player ID.
func (m *Manager) RefreshAuth(sessionID, participantID, token string) (identity.Identity, error) {
	ident, err := m.verifier.Verify(token)
	if err != nil {
		return identity.Identity{}, err
	}
	s, err := m.Get(sessionID)
	if err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return identity.Identity{}, apperr.E(apperr.KindNotFound, "participant not found")
	}
	if ident.PlayerID != p.PlayerID {
		if p.IdentityKind != identity.KindAnonymous || ident.Kind != identity.KindFederated {
			return identity.Identity{}, apperr.E(apperr.KindForbidden, "token does not match participant")
		}
		// One-way anonymous upgrade: the seat keeps its player ID.
		p.IdentityKind = identity.KindFederated
	} else {
		p.IdentityKind = ident.Kind
	}
	if ident.DisplayName != "" {
		p.DisplayName = ident.DisplayName
	}
	p.LastHeartbeatAt = m.opts.Now()
	return ident, nil
}

// Leave removes a participant immediately.
func (m *Manager) Leave(sessionID, participantID, reason string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.removeLocked(s, participantID, reason)
}

func (m *Manager) removeLocked(s *Session, participantID, reason string) error {
	p, ok := s.participants[participantID]
	if !ok {
		return apperr.E(apperr.KindNotFound, "participant not found")
	}
	delete(s.participants, participantID)
	m.hub.Publish(s.RoomID, stream.Event{Type: stream.EventParticipantState, Payload: map[string]any{
		"playerId": p.PlayerID,
		"state":    "left",
		"reason":   reason,
	}})

	removed := 1
	if !p.IsBot && !anyHumanLocked(s) {
		removed += m.pruneBotsLocked(s)
	}
	m.recomputeLocked(s)
	m.adjustParticipants(-removed)
	return nil
}

func (m *Manager) pruneBotsLocked(s *Session) int {
	pruned := 0
	for id, p := range s.participants {
		if p.IsBot {
			delete(s.participants, id)
			pruned++
		}
	}
	return pruned
}

// StateOp is a participant state transition.
type StateOp string

const (
	OpSit     StateOp = "sit"
	OpStand   StateOp = "stand"
	OpReady   StateOp = "ready"
	OpUnready StateOp = "unready"
)

// UpdateParticipantState applies a sit/stand/ready/unready transition,
// recomputes turn-order membership, and starts the round when the readiness
// condition holds.
func (m *Manager) UpdateParticipantState(sessionID, participantID string, op StateOp) (*Participant, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	r, err := m.registry.Get(s.RoomID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "participant not found")
	}

	switch op {
	case OpSit:
		if !p.IsSeated {
			idx, free := freeSeatLocked(s, r.MaxPlayers)
			if !free {
				return nil, apperr.E(apperr.KindRoomFull, "no free seat")
			}
			p.SeatIndex = idx
			p.IsSeated = true
		}
	case OpStand:
		p.IsSeated = false
		p.IsReady = false
		p.SeatIndex = -1
	case OpReady:
		if !p.IsSeated {
			return nil, apperr.E(apperr.KindBadRequest, "must be seated to ready up")
		}
		p.IsReady = true
	case OpUnready:
		p.IsReady = false
	default:
		return nil, apperr.Ef(apperr.KindBadRequest, "unknown state op %q", op)
	}

	cp := *p
	m.hub.Publish(s.RoomID, stream.Event{Type: stream.EventParticipantState, Payload: cp})
	m.registry.Touch(s.RoomID)
	m.recomputeLocked(s)
	m.maybeStartLocked(s, r)
	return &cp, nil
}

// QueueNext restarts a completed round immediately instead of waiting for
// the post-round delay.
func (m *Manager) QueueNext(sessionID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	r, err := m.registry.Get(s.RoomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine.Phase() != turn.PhaseMatchComplete {
		return apperr.E(apperr.KindWrongPhase, "round is still running")
	}
	s.queueNextAt = time.Time{}
	m.maybeStartLocked(s, r)
	if s.engine.Phase() == turn.PhaseMatchComplete {
		return apperr.E(apperr.KindWrongPhase, "no ready human to restart for")
	}
	return nil
}

// recomputeLocked pushes the current turn-order member set into the engine.
func (m *Manager) recomputeLocked(s *Session) {
	var members []turn.Member
	for _, p := range s.participants {
		if p.IsSeated && p.IsReady {
			members = append(members, turn.Member{
				PlayerID:   p.PlayerID,
				SeatIndex:  p.SeatIndex,
				IsBot:      p.IsBot,
				Difficulty: p.Difficulty,
			})
		}
	}
	s.engine.SetMembers(members)
	if r, err := m.registry.Get(s.RoomID); err == nil {
		switch s.engine.Phase() {
		case turn.PhaseWaitingReady:
			m.registry.SetStatus(r.ID, room.StatusLobby)
		case turn.PhaseMatchComplete:
		default:
			m.registry.SetStatus(r.ID, room.StatusActive)
		}
	}
}

// maybeStartLocked starts a round once every seated human is ready and at
// least one human is in the turn order. A solo human plays alone or against
// bots without waiting for anyone else.
func (m *Manager) maybeStartLocked(s *Session, r *room.Room) {
	phase := s.engine.Phase()
	if phase != turn.PhaseWaitingReady && phase != turn.PhaseMatchComplete {
		return
	}
	humansSeated, humansReady, humanMembers := 0, 0, 0
	for _, p := range s.participants {
		if p.IsBot || !p.IsSeated {
			continue
		}
		humansSeated++
		if p.IsReady {
			humansReady++
			humanMembers++
		}
	}
	if humanMembers == 0 || humansReady != humansSeated {
		return
	}
	if err := s.engine.StartRound(); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldSessionID, s.ID).Msg("round start rejected")
		return
	}
	m.registry.SetStatus(r.ID, room.StatusActive)
	s.queueNextAt = time.Time{}
}

// Occupancy implements the registry callback: seated live humans.
func (m *Manager) Occupancy(roomID string) (int, bool) {
	m.mu.Lock()
	s, ok := m.byRoom[roomID]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	humans := 0
	for _, p := range s.participants {
		if !p.IsBot && p.IsSeated {
			humans++
		}
	}
	return humans, humans > 0
}

// onRoomExpired tears the session down when the registry closes its room.
func (m *Manager) onRoomExpired(r *room.Room, reason string) {
	m.mu.Lock()
	s, ok := m.byRoom[r.ID]
	delete(m.byRoom, r.ID)
	if ok {
		delete(m.sessions, s.ID)
		m.tombstones[s.ID] = m.opts.Now()
		m.tombstones[r.ID] = m.opts.Now()
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	cleared := len(s.participants)
	s.participants = make(map[string]*Participant)
	s.mu.Unlock()

	final := stream.Event{Type: stream.EventRoomClosed, Payload: map[string]string{
		"roomId": r.ID,
		"reason": reason,
	}}
	m.hub.CloseRoom(r.ID, &final)
	m.adjustParticipants(-cleared)
	m.logger.Info().Str(log.FieldRoomID, r.ID).Str("reason", reason).Msg("session closed")
}

func (m *Manager) isTombstoned(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tombstones[id]
	return ok
}

// SweepOnce prunes stale participants, fires scheduled round restarts, and
// expires tombstones. Deterministic for a given now.
func (m *Manager) SweepOnce(ctx context.Context, now time.Time) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	for id, at := range m.tombstones {
		if now.Sub(at) > m.opts.TombstoneTTL {
			delete(m.tombstones, id)
		}
	}
	for t, info := range m.tickets {
		if now.After(info.expiresAt) {
			delete(m.tickets, t)
		}
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		var stale []string
		for id, p := range s.participants {
			if p.IsBot {
				continue
			}
			if now.Sub(p.LastHeartbeatAt) > m.opts.Liveness {
				stale = append(stale, id)
			}
		}
		for _, id := range stale {
			m.logger.Info().Str(log.FieldSessionID, s.ID).Str(log.FieldPlayerID, id).Msg("participant pruned for missed heartbeats")
			_ = m.removeLocked(s, id, "liveness")
		}
		if !s.queueNextAt.IsZero() && now.After(s.queueNextAt) {
			s.queueNextAt = time.Time{}
			if r, err := m.registry.Get(s.RoomID); err == nil {
				m.maybeStartLocked(s, r)
			}
		}
		s.mu.Unlock()
	}
}

// TickTurns drives turn deadlines and bot actions across all sessions.
func (m *Manager) TickTurns(now time.Time) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.engine.TickDeadline(now)
		for i := 0; i < 4 && s.engine.BotTick(now); i++ {
		}
		s.mu.Unlock()
	}
}

// Snapshot builds the session_state event for a participant, used as the
// first frame on subscribe and resume.
func (m *Manager) Snapshot(sessionID string) (*StatePayload, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &StatePayload{
		RoomID:       s.RoomID,
		Turn:         s.engine.Snapshot(),
		Participants: s.participantViewsLocked(),
	}, nil
}

// RollIntent forwards the active player's roll through the session lock.
func (m *Manager) RollIntent(sessionID, playerID string) (*turn.ActiveRoll, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	roll, err := s.engine.RollIntent(playerID)
	if err == nil {
		m.registry.Touch(s.RoomID)
	}
	return roll, err
}

// Score forwards a scoring selection through the session lock.
func (m *Manager) Score(sessionID, playerID, serverRollID string, selection []string) (*turn.ScoreEntry, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.engine.Score(playerID, serverRollID, selection)
	if err == nil {
		m.registry.Touch(s.RoomID)
	}
	return entry, err
}

// Pass forwards a voluntary stop through the session lock.
func (m *Manager) Pass(sessionID, playerID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Pass(playerID); err != nil {
		return err
	}
	m.registry.Touch(s.RoomID)
	return nil
}

// ScoreLog returns the committed entries for leaderboard publication.
func (m *Manager) ScoreLog(sessionID string) ([]turn.ScoreEntry, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ScoreLog(), nil
}

// Participants returns the current roster.
func (m *Manager) Participants(sessionID string) ([]Participant, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantViewsLocked(), nil
}

// adjustParticipants tracks the global participant count without touching
// any session mutex, so it is safe to call with locks held.
func (m *Manager) adjustParticipants(delta int) {
	metrics.SetParticipantsActive(int(m.participantCount.Add(int64(delta))))
}

func anyHumanLocked(s *Session) bool {
	for _, p := range s.participants {
		if !p.IsBot {
			return true
		}
	}
	return false
}

func freeSeatLocked(s *Session, maxPlayers int) (int, bool) {
	taken := make(map[int]bool, len(s.participants))
	for _, p := range s.participants {
		if p.IsSeated {
			taken[p.SeatIndex] = true
		}
	}
	for i := 0; i < maxPlayers; i++ {
		if !taken[i] {
			return i, true
		}
	}
	return 0, false
}
