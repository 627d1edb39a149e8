// SPDX-License-Identifier: MIT

package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/metrics"
	"github.com/ManuGH/lowroll/internal/store"
)

// Incident is one ladder event kept in the per-player history ring.
type Incident struct {
	At     time.Time `json:"at"`
	RoomID string    `json:"roomId"`
	Term   string    `json:"term"`
	Action string    `json:"action"` // warn|mute|ban
}

const historyCap = 20

// Conduct is the per-player moderation record, persisted in the conduct
// section.
type Conduct struct {
	PlayerID  string     `json:"playerId"`
	Strikes   int        `json:"strikes"`
	MuteUntil time.Time  `json:"muteUntil,omitzero"`
	BanRooms  []string   `json:"banRooms,omitempty"`
	History   []Incident `json:"history,omitempty"`
}

// Config tunes the strike ladder.
type Config struct {
	MuteThreshold int
	BanThreshold  int
	MuteWindow    time.Duration
}

// BanFunc applies a room ban when the ladder escalates that far.
type BanFunc func(roomID, playerID string) error

// Service evaluates chat and owns conduct records.
type Service struct {
	mu      sync.Mutex
	conduct map[string]*Conduct

	terms  *TermSet
	st     store.Store
	cfg    Config
	ban    BanFunc
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the service. ban may be nil when room bans are handled
// elsewhere.
func New(st store.Store, cfg Config, ban BanFunc) *Service {
	if cfg.MuteThreshold <= 0 {
		cfg.MuteThreshold = 3
	}
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = 6
	}
	if cfg.MuteWindow <= 0 {
		cfg.MuteWindow = 10 * time.Minute
	}
	return &Service{
		conduct: make(map[string]*Conduct),
		terms:   NewTermSet(),
		st:      st,
		cfg:     cfg,
		ban:     ban,
		logger:  log.WithComponent("moderation"),
		now:     time.Now,
	}
}

// Terms exposes the term set for admin management.
func (s *Service) Terms() *TermSet { return s.terms }

// Verdict is the chat screening outcome for a deliverable message.
type Verdict struct {
	Warned      bool      `json:"warned"`
	MatchedTerm string    `json:"matchedTerm,omitempty"`
	Strikes     int       `json:"strikes"`
	MutedUntil  time.Time `json:"mutedUntil,omitzero"`
	Banned      bool      `json:"banned"`
}

// CheckChat screens one chat submission. A nil error means the message is
// deliverable (possibly with a warning annotation); mutes and bans reject
// with the matching conflict kind.
func (s *Service) CheckChat(ctx context.Context, playerID, roomID, body string) (Verdict, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conductLocked(ctx, playerID)
	if now.Before(c.MuteUntil) {
		return Verdict{MutedUntil: c.MuteUntil}, apperr.E(apperr.KindMuted, "player is muted")
	}

	term, hit := s.terms.Match(body)
	if !hit {
		return Verdict{Strikes: c.Strikes}, nil
	}

	c.Strikes++
	action := "warn"
	var verdictErr error
	v := Verdict{Warned: true, MatchedTerm: term.Pattern, Strikes: c.Strikes}

	switch {
	case c.Strikes >= s.cfg.BanThreshold:
		action = "ban"
		v.Banned = true
		if !contains(c.BanRooms, roomID) {
			c.BanRooms = append(c.BanRooms, roomID)
		}
		if s.ban != nil {
			if err := s.ban(roomID, playerID); err != nil {
				s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room ban apply failed")
			}
		}
		verdictErr = apperr.E(apperr.KindRoomBanned, "player is banned from this room")
	case c.Strikes >= s.cfg.MuteThreshold:
		action = "mute"
		c.MuteUntil = now.Add(s.cfg.MuteWindow)
		v.MutedUntil = c.MuteUntil
		verdictErr = apperr.E(apperr.KindMuted, "player is muted")
	}

	c.History = append(c.History, Incident{At: now, RoomID: roomID, Term: term.Pattern, Action: action})
	if len(c.History) > historyCap {
		c.History = c.History[len(c.History)-historyCap:]
	}
	s.persistLocked(ctx, c)
	metrics.IncModerationAction(action)
	s.logger.Info().
		Str(log.FieldPlayerID, playerID).
		Str(log.FieldRoomID, roomID).
		Str("action", action).
		Int("strikes", c.Strikes).
		Msg("chat term hit")
	return v, verdictErr
}

// Muted reports whether the player is currently muted.
func (s *Service) Muted(ctx context.Context, playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.conductLocked(ctx, playerID).MuteUntil)
}

// GetConduct returns a copy of the player's record.
func (s *Service) GetConduct(ctx context.Context, playerID string) Conduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.conductLocked(ctx, playerID)
}

// ClearStrikes resets the ladder for a player, keeping history.
func (s *Service) ClearStrikes(ctx context.Context, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conductLocked(ctx, playerID)
	c.Strikes = 0
	c.MuteUntil = time.Time{}
	s.persistLocked(ctx, c)
}

// Unmute lifts an active mute without touching strikes.
func (s *Service) Unmute(ctx context.Context, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conductLocked(ctx, playerID)
	c.MuteUntil = time.Time{}
	s.persistLocked(ctx, c)
}

func (s *Service) conductLocked(ctx context.Context, playerID string) *Conduct {
	if c, ok := s.conduct[playerID]; ok {
		return c
	}
	c := &Conduct{PlayerID: playerID}
	if err := store.GetJSON(ctx, s.st, store.SectionConduct, playerID, c); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Str(log.FieldPlayerID, playerID).Msg("conduct load failed")
	}
	s.conduct[playerID] = c
	return c
}

func (s *Service) persistLocked(ctx context.Context, c *Conduct) {
	err := store.WithRetry(ctx, store.DefaultRetry, func() error {
		return store.PutJSON(ctx, s.st, store.SectionConduct, c.PlayerID, c)
	})
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldPlayerID, c.PlayerID).Msg("conduct persist failed")
	}
}

// AddTerm installs a managed term and persists it.
func (s *Service) AddTerm(ctx context.Context, t Term) error {
	t.Pattern = Normalize(t.Pattern)
	if t.Pattern == "" {
		return apperr.E(apperr.KindBadRequest, "term pattern is empty")
	}
	s.terms.Add(t)
	return store.WithRetry(ctx, store.DefaultRetry, func() error {
		return store.PutJSON(ctx, s.st, store.SectionTerms, t.Pattern, t)
	})
}

// RemoveTerm drops a managed term and its persisted record.
func (s *Service) RemoveTerm(ctx context.Context, pattern string) error {
	if !s.terms.Remove(pattern) {
		return apperr.E(apperr.KindNotFound, "term not found")
	}
	return s.st.Delete(ctx, store.SectionTerms, Normalize(pattern))
}

// LoadManagedTerms restores persisted managed terms, called at startup.
func (s *Service) LoadManagedTerms(ctx context.Context) error {
	return s.st.Scan(ctx, store.SectionTerms, "", func(_ string, doc []byte) error {
		var t Term
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil
		}
		s.terms.Add(t)
		return nil
	})
}

// WatchTermsFile loads path into the term set and reloads it whenever the
// file changes, until ctx ends. Missing files are tolerated at startup.
func (s *Service) WatchTermsFile(ctx context.Context, path string) error {
	if terms, err := LoadTermsFile(path); err == nil {
		s.terms.SetFileTerms(terms)
	} else {
		s.logger.Warn().Err(err).Str("path", path).Msg("terms file initial load failed")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				terms, err := LoadTermsFile(path)
				if err != nil {
					s.logger.Warn().Err(err).Str("path", path).Msg("terms file reload failed")
					continue
				}
				s.terms.SetFileTerms(terms)
				s.logger.Info().Str("path", path).Int("terms", len(terms)).Msg("terms file reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("terms watcher error")
			}
		}
	}()
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
