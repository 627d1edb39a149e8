// SPDX-License-Identifier: MIT

package turn

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/bot"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/metrics"
	"github.com/ManuGH/lowroll/internal/prng"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/rules"
	"github.com/ManuGH/lowroll/internal/stream"
)

// EmitFunc receives every event the engine commits, in commit order.
type EmitFunc func(typ stream.EventType, payload any)

// Config wires one engine to its session.
type Config struct {
	SessionID string
	// Seed is the dice seed base; roll n uses "{Seed}-{n}".
	Seed    string
	BotSeed string
	Mode    room.TurnMode
	Pool    rules.PoolConfig
	// TurnTimeout bounds each action window. WarningLead is how long before
	// the deadline the warning event fires.
	TurnTimeout time.Duration
	WarningLead time.Duration
	Emit        EmitFunc
	Now         func() time.Time
}

// Engine is the canonical turn state machine for one session. Not safe for
// concurrent use; the session manager serializes access.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	phase      Phase
	roundIndex int
	rollIndex  int

	seats     map[string]*seat
	order     []string
	activeIdx int

	deadline      time.Time
	warned        bool
	botThinkUntil time.Time

	activeRoll *ActiveRoll
	scoreLog   []ScoreEntry
	entryIdx   map[string]int
	// rollByID maps every serverRollId issued this round to its rollIndex so
	// duplicate score submissions dedupe even after the turn advanced.
	rollByID map[string]int
}

// New constructs an engine in waitingReady.
func New(cfg Config) *Engine {
	if cfg.Pool.Count == 0 {
		cfg.Pool = rules.PoolConfig{Kind: rules.D6, Count: 5}
	}
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	if cfg.WarningLead == 0 {
		cfg.WarningLead = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Emit == nil {
		cfg.Emit = func(stream.EventType, any) {}
	}
	return &Engine{
		cfg:      cfg,
		logger:   log.WithComponent("turn").With().Str(log.FieldSessionID, cfg.SessionID).Logger(),
		phase:    PhaseWaitingReady,
		seats:    make(map[string]*seat),
		entryIdx: make(map[string]int),
		rollByID: make(map[string]int),
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase { return e.phase }

// ActivePlayerID returns the player whose turn it is, or "".
func (e *Engine) ActivePlayerID() string {
	if e.phase != PhasePreRoll && e.phase != PhasePostRoll {
		return ""
	}
	if e.activeIdx < 0 || e.activeIdx >= len(e.order) {
		return ""
	}
	return e.order[e.activeIdx]
}

// SetMembers replaces the turn-order member set. Called by the session
// manager on every seat or ready transition. If the active player drops out
// mid-turn, the turn passes to the next clockwise member immediately.
func (e *Engine) SetMembers(members []Member) {
	active := e.ActivePlayerID()
	activeSeat := -1
	if active != "" {
		if s, ok := e.seats[active]; ok {
			activeSeat = s.member.SeatIndex
		}
	}

	sorted := append([]Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SeatIndex < sorted[j].SeatIndex })

	next := make(map[string]*seat, len(sorted))
	order := make([]string, 0, len(sorted))
	for _, m := range sorted {
		order = append(order, m.PlayerID)
		if existing, ok := e.seats[m.PlayerID]; ok {
			existing.member = m
			next[m.PlayerID] = existing
			continue
		}
		next[m.PlayerID] = &seat{member: m, pool: rules.BuildPool(e.cfg.Pool)}
	}
	e.seats = next
	e.order = order

	if len(order) == 0 {
		if e.phase != PhaseMatchComplete {
			e.toWaiting()
		}
		return
	}

	if active != "" {
		if idx := indexOf(order, active); idx >= 0 {
			e.activeIdx = idx
			return
		}
		// Active player left the turn-order set mid-turn. The turn passes
		// to the next clockwise seat after the departed one.
		e.cfg.Emit(stream.EventTurnEnd, TurnEndPayload{
			SessionID: e.cfg.SessionID,
			PlayerID:  active,
			Reason:    "left",
		})
		e.activeRoll = nil
		pos := 0
		for i, id := range order {
			if e.seats[id].member.SeatIndex < activeSeat {
				pos = i + 1
			}
		}
		e.activeIdx = pos - 1
		e.advance()
	}
}

func (e *Engine) toWaiting() {
	e.phase = PhaseWaitingReady
	e.activeRoll = nil
	e.activeIdx = -1
	e.deadline = time.Time{}
}

// StartRound begins a fresh round: every member gets a full pool and the
// lowest seat acts first. Valid from waitingReady or matchComplete.
func (e *Engine) StartRound() error {
	if e.phase != PhaseWaitingReady && e.phase != PhaseMatchComplete {
		return apperr.E(apperr.KindWrongPhase, "round already running")
	}
	if len(e.order) == 0 {
		return apperr.E(apperr.KindWrongPhase, "no turn-order members")
	}
	e.roundIndex++
	e.scoreLog = nil
	e.entryIdx = make(map[string]int)
	e.rollByID = make(map[string]int)
	e.activeRoll = nil
	for _, s := range e.seats {
		s.pool = rules.BuildPool(e.cfg.Pool)
		s.score = 0
		s.busts = 0
		s.rolls = 0
		s.finished = false
		s.scoredThisTurn = 0
	}
	e.activeIdx = -1
	e.advance()
	return nil
}

// RollIntent rolls the active player's remaining dice. A duplicate retry
// after the roll already happened returns the same canonical roll.
func (e *Engine) RollIntent(playerID string) (*ActiveRoll, error) {
	if e.phase == PhasePostRoll && e.ActivePlayerID() == playerID && e.activeRoll != nil {
		return e.activeRoll, nil
	}
	if e.phase != PhasePreRoll {
		return nil, apperr.Ef(apperr.KindWrongPhase, "cannot roll in phase %s", e.phase)
	}
	if e.ActivePlayerID() != playerID {
		return nil, apperr.E(apperr.KindWrongTurn, "not this player's turn")
	}
	return e.doRoll(e.seats[playerID]), nil
}

func (e *Engine) doRoll(s *seat) *ActiveRoll {
	e.rollIndex++
	s.rolls++
	rng := prng.New(prng.RollSeed(e.cfg.Seed, e.rollIndex))
	for i := range s.pool {
		if s.pool[i].InPlay && !s.pool[i].Scored {
			s.pool[i].Value = rng.Roll(rules.MaxFace(s.pool[i].Kind))
		}
	}
	roll := &ActiveRoll{
		ServerRollID: uuid.NewString(),
		RollIndex:    e.rollIndex,
		Dice:         append([]rules.Die(nil), s.pool...),
		RolledAt:     e.cfg.Now(),
	}
	e.rollByID[roll.ServerRollID] = roll.RollIndex
	e.activeRoll = roll
	e.phase = PhasePostRoll
	e.cfg.Emit(stream.EventRollResult, RollResultPayload{
		SessionID:      e.cfg.SessionID,
		ActivePlayerID: s.member.PlayerID,
		Roll:           roll,
	})
	return roll
}

// Score commits a scoring selection against the current active roll. The
// selection must cite the live serverRollId; points are recomputed server
// side. Duplicate submissions return the original entry unchanged.
func (e *Engine) Score(playerID, serverRollID string, selection []string) (*ScoreEntry, error) {
	if ri, ok := e.rollByID[serverRollID]; ok {
		if idx, dup := e.entryIdx[EntryID(e.cfg.SessionID, playerID, ri, selection)]; dup {
			return &e.scoreLog[idx], nil
		}
	}
	if e.phase != PhasePostRoll {
		return nil, apperr.Ef(apperr.KindWrongPhase, "cannot score in phase %s", e.phase)
	}
	if e.ActivePlayerID() != playerID {
		return nil, apperr.E(apperr.KindWrongTurn, "not this player's turn")
	}
	if e.activeRoll == nil || e.activeRoll.ServerRollID != serverRollID {
		return nil, apperr.E(apperr.KindInvalidSelection, "selection does not cite the active roll")
	}

	points, err := rules.ScoreSelection(e.activeRoll.Dice, selection)
	if err != nil {
		return nil, err
	}
	id := EntryID(e.cfg.SessionID, playerID, e.rollIndex, selection)

	s := e.seats[playerID]
	selected := make(map[string]bool, len(selection))
	for _, dieID := range selection {
		selected[dieID] = true
	}
	for i := range s.pool {
		if selected[s.pool[i].ID] {
			s.pool[i].Scored = true
		}
	}
	for i := range e.activeRoll.Dice {
		if selected[e.activeRoll.Dice[i].ID] {
			e.activeRoll.Dice[i].Scored = true
		}
	}
	s.score += points
	s.scoredThisTurn += len(selection)

	entry := ScoreEntry{
		ID:        id,
		PlayerID:  playerID,
		RollIndex: e.rollIndex,
		Selection: append([]string(nil), selection...),
		Points:    points,
		At:        e.cfg.Now(),
	}
	e.entryIdx[id] = len(e.scoreLog)
	e.scoreLog = append(e.scoreLog, entry)
	e.cfg.Emit(stream.EventScoreCommitted, ScoreCommittedPayload{SessionID: e.cfg.SessionID, Entry: entry})

	e.phase = PhaseResolving
	if s.remaining() == 0 {
		s.finished = true
	}
	if e.cfg.Mode == room.TurnFullRound && !s.finished {
		// Same player keeps the turn; fresh action window.
		e.phase = PhasePreRoll
		e.activeRoll = nil
		e.armDeadline(s)
		return &e.scoreLog[e.entryIdx[id]], nil
	}
	e.endTurn(s, "scored", points)
	return &e.scoreLog[e.entryIdx[id]], nil
}

// Pass ends the active player's turn voluntarily without scoring further.
// Remaining dice stay in the pool for their next turn.
func (e *Engine) Pass(playerID string) error {
	if e.phase != PhasePreRoll {
		return apperr.Ef(apperr.KindWrongPhase, "cannot pass in phase %s", e.phase)
	}
	if e.ActivePlayerID() != playerID {
		return apperr.E(apperr.KindWrongTurn, "not this player's turn")
	}
	e.endTurn(e.seats[playerID], "passed", 0)
	return nil
}

// endTurn emits turn_end, advances the seat or completes the round.
func (e *Engine) endTurn(s *seat, reason string, points int) {
	if points == 0 && (reason == "timeout" || reason == "busted") {
		s.busts++
	}
	s.scoredThisTurn = 0
	e.activeRoll = nil
	e.phase = PhaseBetweenTurns
	e.cfg.Emit(stream.EventTurnEnd, TurnEndPayload{
		SessionID: e.cfg.SessionID,
		PlayerID:  s.member.PlayerID,
		Reason:    reason,
		Points:    points,
	})
	e.advance()
}

// advance hands the turn to the next clockwise unfinished seat, or completes
// the round when none remains.
func (e *Engine) advance() {
	n := len(e.order)
	if n == 0 {
		e.toWaiting()
		return
	}
	start := e.activeIdx
	for step := 1; step <= n; step++ {
		idx := ((start + step) % n + n) % n
		s := e.seats[e.order[idx]]
		if !s.finished {
			e.activeIdx = idx
			e.beginTurn(s)
			return
		}
	}
	e.completeRound()
}

func (e *Engine) beginTurn(s *seat) {
	e.phase = PhasePreRoll
	e.armDeadline(s)
	e.cfg.Emit(stream.EventTurnStart, TurnStartPayload{
		SessionID:      e.cfg.SessionID,
		RoundIndex:     e.roundIndex,
		ActivePlayerID: s.member.PlayerID,
		TurnDeadlineAt: e.deadline,
	})
}

func (e *Engine) armDeadline(s *seat) {
	now := e.cfg.Now()
	e.deadline = now.Add(e.cfg.TurnTimeout)
	e.warned = false
	if s.member.IsBot {
		e.botThinkUntil = now.Add(bot.ThinkDelay(s.member.Difficulty))
	}
}

func (e *Engine) completeRound() {
	e.phase = PhaseMatchComplete
	e.activeRoll = nil
	e.activeIdx = -1
	standings := e.Standings()
	winner := ""
	if len(standings) > 0 {
		winner = standings[0].PlayerID
	}
	scores := make(map[string]int, len(e.seats))
	for id, s := range e.seats {
		scores[id] = s.score
	}
	e.cfg.Emit(stream.EventSystemNotification, MatchCompletePayload{
		Kind:       "match_complete",
		SessionID:  e.cfg.SessionID,
		RoundIndex: e.roundIndex,
		WinnerID:   winner,
		Standings:  standings,
		Scores:     scores,
	})
	e.cfg.Emit(stream.EventSessionState, e.Snapshot())
	e.logger.Info().Int("round", e.roundIndex).Str("winner", winner).Msg("round complete")
}

// TickDeadline drives the timeout watchdog. Deterministic for a given now,
// so tests call it directly instead of waiting on timers.
func (e *Engine) TickDeadline(now time.Time) {
	if e.phase != PhasePreRoll && e.phase != PhasePostRoll {
		return
	}
	active := e.ActivePlayerID()
	if active == "" {
		return
	}
	if !e.warned && !now.Before(e.deadline.Add(-e.cfg.WarningLead)) && now.Before(e.deadline) {
		e.warned = true
		e.cfg.Emit(stream.EventSystemNotification, DeadlineWarningPayload{
			SessionID:      e.cfg.SessionID,
			ActivePlayerID: active,
			TurnDeadlineAt: e.deadline,
		})
		return
	}
	if now.Before(e.deadline) {
		return
	}

	metrics.IncTurnTimeout()
	s := e.seats[active]
	switch e.phase {
	case PhasePostRoll:
		// Auto-score the best single die so the turn still counts.
		if dieID, ok := rules.BestSingleDie(e.activeRoll.Dice); ok {
			e.autoScore(s, dieID, "timeout")
			return
		}
		e.endTurn(s, "timeout", 0)
	case PhasePreRoll:
		if s.member.IsBot {
			// Think timer misfired; force the roll and the obvious score.
			roll := e.doRoll(s)
			if dieID, ok := rules.BestSingleDie(roll.Dice); ok {
				e.autoScore(s, dieID, "timeout")
				return
			}
			e.endTurn(s, "timeout", 0)
			return
		}
		// Humans are auto-skipped.
		e.endTurn(s, "timeout", 0)
	}
}

func (e *Engine) autoScore(s *seat, dieID, reason string) {
	points, err := rules.ScoreSelection(e.activeRoll.Dice, []string{dieID})
	if err != nil {
		e.endTurn(s, reason, 0)
		return
	}
	for i := range s.pool {
		if s.pool[i].ID == dieID {
			s.pool[i].Scored = true
		}
	}
	for i := range e.activeRoll.Dice {
		if e.activeRoll.Dice[i].ID == dieID {
			e.activeRoll.Dice[i].Scored = true
		}
	}
	s.score += points
	entry := ScoreEntry{
		ID:        EntryID(e.cfg.SessionID, s.member.PlayerID, e.rollIndex, []string{dieID}),
		PlayerID:  s.member.PlayerID,
		RollIndex: e.rollIndex,
		Selection: []string{dieID},
		Points:    points,
		At:        e.cfg.Now(),
	}
	e.entryIdx[entry.ID] = len(e.scoreLog)
	e.scoreLog = append(e.scoreLog, entry)
	e.cfg.Emit(stream.EventScoreCommitted, ScoreCommittedPayload{SessionID: e.cfg.SessionID, Entry: entry})
	if s.remaining() == 0 {
		s.finished = true
	}
	e.endTurn(s, reason, points)
}

// BotTick lets the active bot act once its think delay elapsed. Reports
// whether an action was taken.
func (e *Engine) BotTick(now time.Time) bool {
	active := e.ActivePlayerID()
	if active == "" {
		return false
	}
	s := e.seats[active]
	if !s.member.IsBot || now.Before(e.botThinkUntil) {
		return false
	}

	view := bot.View{
		ScoredThisTurn: s.scoredThisTurn,
		FullRound:      e.cfg.Mode == room.TurnFullRound,
		RollIndex:      e.rollIndex,
	}
	switch e.phase {
	case PhasePreRoll:
		view.Phase = bot.PhasePreRoll
	case PhasePostRoll:
		view.Phase = bot.PhasePostRoll
		view.Dice = e.activeRoll.Dice
	default:
		return false
	}

	rng := prng.New(bot.DecisionSeed(e.cfg.BotSeed, active, e.rollIndex))
	decision := bot.Decide(view, s.member.Difficulty, rng)

	var err error
	switch decision.Action {
	case bot.ActionRoll:
		_, err = e.RollIntent(active)
	case bot.ActionScore:
		_, err = e.Score(active, e.activeRoll.ServerRollID, decision.Selection)
	case bot.ActionPass:
		err = e.Pass(active)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str(log.FieldPlayerID, active).Msg("bot action rejected")
		return false
	}
	metrics.IncBotAdvance()
	e.botThinkUntil = now.Add(bot.ThinkDelay(s.member.Difficulty))
	return true
}

// Standings returns the round totals ordered by the win criteria.
func (e *Engine) Standings() []rules.Standing {
	out := make([]rules.Standing, 0, len(e.seats))
	for id, s := range e.seats {
		out = append(out, rules.Standing{PlayerID: id, Score: s.score, Busts: s.busts, Rolls: s.rolls})
	}
	sort.Slice(out, func(i, j int) bool { return rules.Less(out[i], out[j]) })
	return out
}

// Snapshot captures the full serializable state for session_state events.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  e.cfg.SessionID,
		Phase:      e.phase,
		RoundIndex: e.roundIndex,
		RollIndex:  e.rollIndex,
		TurnOrder:  append([]string(nil), e.order...),
		Standings:  e.Standings(),
		ScoreLog:   append([]ScoreEntry(nil), e.scoreLog...),
	}
	if id := e.ActivePlayerID(); id != "" {
		snap.ActivePlayerID = id
		d := e.deadline
		snap.TurnDeadlineAt = &d
	}
	if e.activeRoll != nil {
		roll := *e.activeRoll
		roll.Dice = append([]rules.Die(nil), e.activeRoll.Dice...)
		snap.ActiveRoll = &roll
	}
	return snap
}

// ScoreLog returns the committed entries in commit order.
func (e *Engine) ScoreLog() []ScoreEntry {
	return append([]ScoreEntry(nil), e.scoreLog...)
}

// RoundIndex returns the current round number, starting at 1.
func (e *Engine) RoundIndex() int { return e.roundIndex }

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}
