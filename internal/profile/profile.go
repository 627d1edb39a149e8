// SPDX-License-Identifier: MIT

// Package profile owns durable player state: profiles, submitted scores and
// the leaderboard. Profiles and scores live in the store; leaderboard reads
// go through a Redis sorted-set cache when one is configured and fall back
// to a store scan otherwise.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/cache"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/store"
)

// Progression accumulates lifetime stats.
type Progression struct {
	GamesPlayed int  `json:"gamesPlayed"`
	Wins        int  `json:"wins"`
	BestScore   *int `json:"bestScore,omitempty"`
}

// Profile is the durable player record.
type Profile struct {
	PlayerID         string         `json:"playerId"`
	DisplayName      string         `json:"displayName"`
	IdentityKind     identity.Kind  `json:"identityKind"`
	Subject          string         `json:"subject,omitempty"`
	Settings         map[string]any `json:"settings,omitempty"`
	Progression      Progression    `json:"progression"`
	BlockedPlayerIDs []string       `json:"blockedPlayerIds,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Blocked reports whether the profile blocks the given sender.
func (p *Profile) Blocked(senderID string) bool {
	for _, id := range p.BlockedPlayerIDs {
		if id == senderID {
			return true
		}
	}
	return false
}

// Service reads and writes profiles and scores.
type Service struct {
	st     store.Store
	rdb    *redis.Client
	pages  *cache.TTL[scanPage]
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the service. rdb may be nil; leaderboard queries then scan
// the store directly, with a short-lived page cache in front of the scan.
func New(st store.Store, rdb *redis.Client) *Service {
	return &Service{
		st:     st,
		rdb:    rdb,
		pages:  cache.NewTTL[scanPage](),
		logger: log.WithComponent("profile"),
		now:    time.Now,
	}
}

// Get loads a profile.
func (s *Service) Get(ctx context.Context, playerID string) (*Profile, error) {
	var p Profile
	if err := store.GetJSON(ctx, s.st, store.SectionProfiles, playerID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Patch is the caller-writable slice of a profile.
type Patch struct {
	DisplayName *string        `json:"displayName,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	Block       []string       `json:"block,omitempty"`
	Unblock     []string       `json:"unblock,omitempty"`
}

// Upsert creates or patches the caller's own profile. Settings writes are
// limited to federated identities; an anonymous profile presenting a
// federated identity upgrades exactly once and keeps its player ID.
func (s *Service) Upsert(ctx context.Context, ident identity.Identity, patch Patch) (*Profile, error) {
	now := s.now()
	p, err := s.Get(ctx, ident.PlayerID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		p = &Profile{
			PlayerID:     ident.PlayerID,
			DisplayName:  ident.DisplayName,
			IdentityKind: ident.Kind,
			Subject:      ident.Subject,
			CreatedAt:    now,
		}
		if p.DisplayName == "" {
			p.DisplayName = ident.PlayerID
		}
	default:
		return nil, err
	}

	if ident.Kind == identity.KindFederated {
		switch {
		case p.IdentityKind == identity.KindAnonymous:
			// One-way upgrade.
			p.IdentityKind = identity.KindFederated
			p.Subject = ident.Subject
		case p.Subject != "" && p.Subject != ident.Subject:
			return nil, apperr.E(apperr.KindForbidden, "profile is bound to a different subject")
		}
	}

	if patch.DisplayName != nil && *patch.DisplayName != "" {
		p.DisplayName = *patch.DisplayName
	}
	if len(patch.Settings) > 0 {
		if p.IdentityKind != identity.KindFederated {
			return nil, apperr.E(apperr.KindForbidden, "settings require a federated identity")
		}
		if p.Settings == nil {
			p.Settings = make(map[string]any)
		}
		for k, v := range patch.Settings {
			p.Settings[k] = v
		}
	}
	for _, id := range patch.Block {
		if id != p.PlayerID && !p.Blocked(id) {
			p.BlockedPlayerIDs = append(p.BlockedPlayerIDs, id)
		}
	}
	for _, id := range patch.Unblock {
		for i, b := range p.BlockedPlayerIDs {
			if b == id {
				p.BlockedPlayerIDs = append(p.BlockedPlayerIDs[:i], p.BlockedPlayerIDs[i+1:]...)
				break
			}
		}
	}

	p.UpdatedAt = now
	err = store.WithRetry(ctx, store.DefaultRetry, func() error {
		return store.PutJSON(ctx, s.st, store.SectionProfiles, p.PlayerID, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IsBlocked reports whether recipient blocks sender. Missing profiles block
// nobody.
func (s *Service) IsBlocked(ctx context.Context, recipientID, senderID string) bool {
	p, err := s.Get(ctx, recipientID)
	if err != nil {
		return false
	}
	return p.Blocked(senderID)
}
