// SPDX-License-Identifier: MIT

package room

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/metrics"
	"github.com/ManuGH/lowroll/internal/store"
)

// OccupancyFunc reports the current human seat count and whether any seated
// human remains in the room. The session manager owns participants, so the
// registry asks rather than tracking seats itself.
type OccupancyFunc func(roomID string) (humans int, anySeated bool)

// ExpiredFunc is invoked after a room transitions to closed so the session
// layer can tear down its state and notify subscribers.
type ExpiredFunc func(r *Room, reason string)

// Registry is the authoritative room table. Room IDs double as the join code.
// All mutation goes through its mutex; minimal records mirror to the store.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	closed map[string]bool
	st     store.Store
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string

	occupancy OccupancyFunc
	onExpired ExpiredFunc
}

// NewRegistry constructs an empty registry backed by st.
func NewRegistry(st store.Store) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		closed: make(map[string]bool),
		st:     st,
		logger: log.WithComponent("room"),
		now:    time.Now,
		newID:  NewCode,
	}
}

// SetOccupancy wires the session manager's seat lookup. Must be called before
// joins or sweeps run.
func (g *Registry) SetOccupancy(fn OccupancyFunc) { g.occupancy = fn }

// SetOnExpired wires the expiry callback.
func (g *Registry) SetOnExpired(fn ExpiredFunc) { g.onExpired = fn }

// CreateOptions are the caller-facing knobs for a new room.
type CreateOptions struct {
	Name       string
	Difficulty Difficulty
	Visibility Visibility
	MaxPlayers int
	TurnMode   TurnMode
	BotSeed    string
}

// Create validates options, registers the room in lobby state, and persists
// the durable record.
func (g *Registry) Create(ctx context.Context, opts CreateOptions) (*Room, error) {
	if !ValidDifficulty(opts.Difficulty) {
		return nil, apperr.Ef(apperr.KindBadRequest, "unknown difficulty %q", opts.Difficulty)
	}
	switch opts.Visibility {
	case VisibilityPublic, VisibilityPrivate:
	default:
		return nil, apperr.Ef(apperr.KindBadRequest, "unknown visibility %q", opts.Visibility)
	}
	switch opts.TurnMode {
	case "":
		opts.TurnMode = TurnRollByRoll
	case TurnRollByRoll, TurnFullRound:
	default:
		return nil, apperr.Ef(apperr.KindBadRequest, "unknown turn mode %q", opts.TurnMode)
	}
	if opts.MaxPlayers < MinPlayers || opts.MaxPlayers > MaxPlayersCap {
		return nil, apperr.Ef(apperr.KindBadRequest, "maxPlayers must be between %d and %d", MinPlayers, MaxPlayersCap)
	}
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "Low Roll " + strings.ToLower(string(opts.Difficulty))
	}

	now := g.now()
	r := &Room{
		Name:            opts.Name,
		Difficulty:      opts.Difficulty,
		Visibility:      opts.Visibility,
		MaxPlayers:      opts.MaxPlayers,
		TurnMode:        opts.TurnMode,
		CreatedAt:       now,
		LastActivityAt:  now,
		Status:          StatusLobby,
		BotSeed:         opts.BotSeed,
		SessionID:       uuid.NewString(),
		BannedPlayerIDs: make(map[string]bool),
	}
	if r.BotSeed == "" {
		r.BotSeed = uuid.NewString()
	}

	g.mu.Lock()
	for {
		r.ID = g.newID()
		if _, taken := g.rooms[r.ID]; !taken && !g.closed[r.ID] {
			break
		}
	}
	g.rooms[r.ID] = r
	active := len(g.rooms)
	g.mu.Unlock()

	metrics.SetRoomsActive(active)
	if err := g.persist(ctx, r); err != nil {
		g.logger.Warn().Err(err).Str(log.FieldRoomID, r.ID).Msg("room record persist failed")
	}
	g.logger.Info().
		Str(log.FieldRoomID, r.ID).
		Str("difficulty", string(r.Difficulty)).
		Str("visibility", string(r.Visibility)).
		Msg("room created")
	return r, nil
}

// Get returns a room by ID.
func (g *Registry) Get(roomID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "room not found")
	}
	return r, nil
}

// Summary is the listing projection.
type Summary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Difficulty     Difficulty `json:"difficulty"`
	MaxPlayers     int        `json:"maxPlayers"`
	SeatedHumans   int        `json:"seatedHumans"`
	TurnMode       TurnMode   `json:"turnMode"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Difficulty Difficulty
	Status     Status
	TurnMode   TurnMode
	// MinPlayers keeps rooms whose capacity fits at least that many seats.
	MinPlayers int
	// Query is a case-insensitive substring match on the room name.
	Query string
}

func (f ListFilter) matches(r *Room) bool {
	if f.Difficulty != "" && r.Difficulty != f.Difficulty {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.TurnMode != "" && r.TurnMode != f.TurnMode {
		return false
	}
	if f.MinPlayers > 0 && r.MaxPlayers < f.MinPlayers {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// List returns public, non-closed rooms matching the filter, newest first,
// with cursor paging. The cursor is the last room ID of the previous page.
func (g *Registry) List(filter ListFilter, cursor string, limit int) ([]Summary, string) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	g.mu.Lock()
	candidates := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		if r.Visibility != VisibilityPublic || r.Status == StatusClosed {
			continue
		}
		if !filter.matches(r) {
			continue
		}
		candidates = append(candidates, r)
	}
	g.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	start := 0
	if cursor != "" {
		for i, r := range candidates {
			if r.ID == cursor {
				start = i + 1
				break
			}
		}
	}

	out := make([]Summary, 0, limit)
	var next string
	for i := start; i < len(candidates) && len(out) < limit; i++ {
		r := candidates[i]
		humans := 0
		if g.occupancy != nil {
			humans, _ = g.occupancy(r.ID)
		}
		out = append(out, Summary{
			ID:             r.ID,
			Name:           r.Name,
			Difficulty:     r.Difficulty,
			MaxPlayers:     r.MaxPlayers,
			SeatedHumans:   humans,
			TurnMode:       r.TurnMode,
			Status:         r.Status,
			CreatedAt:      r.CreatedAt,
			LastActivityAt: r.LastActivityAt,
		})
		if len(out) == limit && i+1 < len(candidates) {
			next = r.ID
		}
	}
	return out, next
}

// Admit resolves a room for a join attempt and enforces ban, closure and
// capacity constraints. The caller seats the participant afterwards.
func (g *Registry) Admit(roomID, playerID string) (*Room, error) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		metrics.IncJoinFailure("not_found")
		return nil, apperr.E(apperr.KindNotFound, "room not found")
	}
	if r.Status == StatusClosed {
		metrics.IncJoinFailure("closed")
		return nil, apperr.E(apperr.KindRoomClosed, "room is closed")
	}
	if r.Banned(playerID) {
		metrics.IncJoinFailure("banned")
		return nil, apperr.E(apperr.KindRoomBanned, "player is banned from this room")
	}
	if g.occupancy != nil {
		humans, _ := g.occupancy(r.ID)
		if humans >= r.MaxPlayers {
			metrics.IncJoinFailure("full")
			return nil, apperr.E(apperr.KindRoomFull, "room is full")
		}
	}
	return r, nil
}

// AdmitByCode is Admit with code normalization. Room IDs are the join code,
// so this is the path private rooms are reachable through.
func (g *Registry) AdmitByCode(code, playerID string) (*Room, error) {
	return g.Admit(strings.ToUpper(strings.TrimSpace(code)), playerID)
}

// JoinPublic picks a listed public room matching the filter with a free human
// seat, preferring the most recently active one.
func (g *Registry) JoinPublic(filter ListFilter, playerID string) (*Room, error) {
	g.mu.Lock()
	candidates := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		if r.Visibility != VisibilityPublic || r.Status == StatusClosed {
			continue
		}
		if !filter.matches(r) {
			continue
		}
		candidates = append(candidates, r)
	}
	g.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastActivityAt.After(candidates[j].LastActivityAt)
	})
	for _, r := range candidates {
		admitted, err := g.Admit(r.ID, playerID)
		if err == nil {
			return admitted, nil
		}
	}
	metrics.IncJoinFailure("no_match")
	return nil, apperr.E(apperr.KindNotFound, "no joinable public room matches")
}

// Touch records activity on the room. LastActivityAt never moves backwards.
func (g *Registry) Touch(roomID string) {
	g.mu.Lock()
	if r, ok := g.rooms[roomID]; ok {
		if now := g.now(); now.After(r.LastActivityAt) {
			r.LastActivityAt = now
		}
	}
	g.mu.Unlock()
}

// SetStatus moves a room between lobby and active. Closing goes through
// Expire so teardown callbacks run.
func (g *Registry) SetStatus(roomID string, s Status) {
	if s == StatusClosed {
		return
	}
	g.mu.Lock()
	if r, ok := g.rooms[roomID]; ok && r.Status != StatusClosed {
		r.Status = s
	}
	g.mu.Unlock()
}

// Ban adds a room-scoped ban. Future Admit calls for the player fail.
func (g *Registry) Ban(roomID, playerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return apperr.E(apperr.KindNotFound, "room not found")
	}
	if r.BannedPlayerIDs == nil {
		r.BannedPlayerIDs = make(map[string]bool)
	}
	r.BannedPlayerIDs[playerID] = true
	return nil
}

// Expire closes a room, removes it from listings, deletes the durable record
// and fires the expiry callback. Idempotent.
func (g *Registry) Expire(ctx context.Context, roomID, reason string) error {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		wasClosed := g.closed[roomID]
		g.mu.Unlock()
		if wasClosed {
			return nil
		}
		return apperr.E(apperr.KindNotFound, "room not found")
	}
	r.Status = StatusClosed
	delete(g.rooms, roomID)
	g.closed[roomID] = true
	active := len(g.rooms)
	g.mu.Unlock()

	metrics.SetRoomsActive(active)
	if err := g.st.Delete(ctx, store.SectionRooms, roomID); err != nil {
		g.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room record delete failed")
	}
	g.logger.Info().Str(log.FieldRoomID, roomID).Str("reason", reason).Msg("room expired")
	if g.onExpired != nil {
		g.onExpired(r, reason)
	}
	return nil
}

// SweepOnce expires rooms with no seated humans whose last activity is older
// than threshold. Returns the number of rooms expired. Deterministic given a
// fixed now, so tests drive it directly.
func (g *Registry) SweepOnce(ctx context.Context, now time.Time, threshold time.Duration) int {
	g.mu.Lock()
	var stale []string
	for id, r := range g.rooms {
		if now.Sub(r.LastActivityAt) < threshold {
			continue
		}
		if g.occupancy != nil {
			if _, seated := g.occupancy(id); seated {
				continue
			}
		}
		stale = append(stale, id)
	}
	g.mu.Unlock()

	for _, id := range stale {
		if err := g.Expire(ctx, id, "inactivity"); err != nil {
			g.logger.Warn().Err(err).Str(log.FieldRoomID, id).Msg("sweep expire failed")
		}
	}
	return len(stale)
}

// EnsureSeeded guarantees at least one public room per difficulty so the
// lobby is never empty. Returns the rooms it created.
func (g *Registry) EnsureSeeded(ctx context.Context) []*Room {
	present := make(map[Difficulty]bool)
	g.mu.Lock()
	for _, r := range g.rooms {
		if r.Visibility == VisibilityPublic && r.Status != StatusClosed {
			present[r.Difficulty] = true
		}
	}
	g.mu.Unlock()

	var created []*Room
	for _, d := range Difficulties {
		if present[d] {
			continue
		}
		r, err := g.Create(ctx, CreateOptions{
			Difficulty: d,
			Visibility: VisibilityPublic,
			MaxPlayers: 4,
		})
		if err != nil {
			g.logger.Error().Err(err).Str("difficulty", string(d)).Msg("seed room create failed")
			continue
		}
		created = append(created, r)
	}
	return created
}

// All returns every live room, public and private, newest first. Listing
// rules do not apply; this feeds the admin surface.
func (g *Registry) All() []*Room {
	g.mu.Lock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count reports live rooms.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) persist(ctx context.Context, r *Room) error {
	return store.WithRetry(ctx, store.DefaultRetry, func() error {
		return store.PutJSON(ctx, g.st, store.SectionRooms, r.ID, r)
	})
}
