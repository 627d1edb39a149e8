// SPDX-License-Identifier: MIT

package profile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/store"
)

// ScoreRecord is one submitted round result. ID is deterministic over the
// identifying facts, so resubmission deduplicates and never overwrites.
type ScoreRecord struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	SessionID  string    `json:"sessionId"`
	RoundIndex int       `json:"roundIndex"`
	Mode       string    `json:"mode"`
	Difficulty string    `json:"difficulty"`
	Score      int       `json:"score"`
	Won        bool      `json:"won"`
	At         time.Time `json:"at"`
}

// ScoreID derives the dedup ID for a round result.
func ScoreID(playerID, sessionID string, roundIndex int) string {
	h := sha256.Sum256([]byte(playerID + "|" + sessionID + "|" + strconv.Itoa(roundIndex)))
	return hex.EncodeToString(h[:8])
}

// SubmitScores stores a batch, skipping entries whose ID already exists.
// Earlier submissions are never overwritten. Returns the accepted count.
func (s *Service) SubmitScores(ctx context.Context, playerID string, batch []ScoreRecord) (int, error) {
	accepted := 0
	for _, rec := range batch {
		if rec.PlayerID != playerID {
			return accepted, apperr.E(apperr.KindForbidden, "score batch names a different player")
		}
		if rec.SessionID == "" || rec.RoundIndex <= 0 {
			return accepted, apperr.E(apperr.KindBadRequest, "score entry is missing session or round")
		}
		rec.ID = ScoreID(rec.PlayerID, rec.SessionID, rec.RoundIndex)
		if rec.At.IsZero() {
			rec.At = s.now()
		}

		if _, err := s.st.Get(ctx, store.SectionScores, rec.ID); err == nil {
			continue // duplicate
		} else if !errors.Is(err, store.ErrNotFound) {
			return accepted, err
		}

		err := store.WithRetry(ctx, store.DefaultRetry, func() error {
			return store.PutJSON(ctx, s.st, store.SectionScores, rec.ID, rec)
		})
		if err != nil {
			return accepted, err
		}
		accepted++
		s.bumpProgression(ctx, rec)
		s.cacheScore(ctx, rec)
	}
	if accepted > 0 {
		s.pages.Clear()
	}
	return accepted, nil
}

func (s *Service) bumpProgression(ctx context.Context, rec ScoreRecord) {
	p, err := s.Get(ctx, rec.PlayerID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return
		}
		p = &Profile{
			PlayerID:     rec.PlayerID,
			DisplayName:  rec.PlayerID,
			IdentityKind: identity.KindAnonymous,
			CreatedAt:    s.now(),
		}
	}
	p.Progression.GamesPlayed++
	if rec.Won {
		p.Progression.Wins++
	}
	if p.Progression.BestScore == nil || rec.Score < *p.Progression.BestScore {
		best := rec.Score
		p.Progression.BestScore = &best
	}
	p.UpdatedAt = s.now()
	if err := store.PutJSON(ctx, s.st, store.SectionProfiles, p.PlayerID, p); err != nil {
		s.logger.Warn().Err(err).Str("playerId", rec.PlayerID).Msg("progression update failed")
	}
}

// LeaderboardEntry is one ranked row. Lower scores rank higher.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

// LeaderboardQuery narrows the ranking.
type LeaderboardQuery struct {
	Mode       string
	Difficulty string
	Window     string // all|daily|weekly
	Cursor     string // decimal offset
	Limit      int
}

func (q LeaderboardQuery) cacheKey(now time.Time) string {
	switch q.Window {
	case "daily":
		return fmt.Sprintf("lb:%s:%s:d:%s", q.Mode, q.Difficulty, now.UTC().Format("2006-01-02"))
	case "weekly":
		year, week := now.UTC().ISOWeek()
		return fmt.Sprintf("lb:%s:%s:w:%d-%02d", q.Mode, q.Difficulty, year, week)
	default:
		return fmt.Sprintf("lb:%s:%s:all", q.Mode, q.Difficulty)
	}
}

func (q LeaderboardQuery) windowStart(now time.Time) time.Time {
	switch q.Window {
	case "daily":
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case "weekly":
		return now.UTC().Add(-7 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// cacheScore folds the record into the relevant sorted sets, keeping the
// best (lowest) score per player. Cache failures only degrade reads.
func (s *Service) cacheScore(ctx context.Context, rec ScoreRecord) {
	if s.rdb == nil {
		return
	}
	member := redis.Z{Score: float64(rec.Score), Member: rec.PlayerID}
	for _, window := range []string{"all", "daily", "weekly"} {
		q := LeaderboardQuery{Mode: rec.Mode, Difficulty: rec.Difficulty, Window: window}
		key := q.cacheKey(rec.At)
		if err := s.rdb.ZAddLT(ctx, key, member).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("leaderboard cache update failed")
			return
		}
		if window != "all" {
			s.rdb.Expire(ctx, key, 8*24*time.Hour)
		}
	}
}

// QueryLeaderboard returns a ranked page, best (lowest) scores first. The
// result is monotone under new submissions: a player's entry only ever
// improves, and valid scores are never retracted.
func (s *Service) QueryLeaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, string, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 25
	}
	offset := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor)
		if err != nil || n < 0 {
			return nil, "", apperr.E(apperr.KindBadRequest, "malformed cursor")
		}
		offset = n
	}

	if s.rdb != nil {
		entries, next, err := s.queryCache(ctx, q, offset)
		if err == nil {
			return entries, next, nil
		}
		s.logger.Warn().Err(err).Msg("leaderboard cache read failed, scanning store")
	}
	return s.queryStore(ctx, q, offset)
}

func (s *Service) queryCache(ctx context.Context, q LeaderboardQuery, offset int) ([]LeaderboardEntry, string, error) {
	key := q.cacheKey(s.now())
	zs, err := s.rdb.ZRangeWithScores(ctx, key, int64(offset), int64(offset+q.Limit)).Result()
	if err != nil {
		return nil, "", err
	}
	entries := make([]LeaderboardEntry, 0, q.Limit)
	for i, z := range zs {
		if i == q.Limit {
			break
		}
		entries = append(entries, LeaderboardEntry{
			Rank:     offset + i + 1,
			PlayerID: z.Member.(string),
			Score:    int(z.Score),
		})
	}
	next := ""
	if len(zs) > q.Limit {
		next = strconv.Itoa(offset + q.Limit)
	}
	return entries, next, nil
}

// scanPage is one cached fallback result.
type scanPage struct {
	entries []LeaderboardEntry
	next    string
}

// scanPageTTL bounds staleness of the fallback path. Submissions clear the
// page cache, so the ttl only matters for writes from other processes.
const scanPageTTL = 3 * time.Second

func (s *Service) queryStore(ctx context.Context, q LeaderboardQuery, offset int) ([]LeaderboardEntry, string, error) {
	pageKey := fmt.Sprintf("%s|%d|%d", q.cacheKey(s.now()), offset, q.Limit)
	if page, ok := s.pages.Get(pageKey); ok {
		return page.entries, page.next, nil
	}

	start := q.windowStart(s.now())
	best := make(map[string]int)
	err := s.st.Scan(ctx, store.SectionScores, "", func(_ string, doc []byte) error {
		var rec ScoreRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil // skip unreadable rows rather than fail the query
		}
		if q.Mode != "" && rec.Mode != q.Mode {
			return nil
		}
		if q.Difficulty != "" && rec.Difficulty != q.Difficulty {
			return nil
		}
		if !start.IsZero() && rec.At.Before(start) {
			return nil
		}
		if cur, ok := best[rec.PlayerID]; !ok || rec.Score < cur {
			best[rec.PlayerID] = rec.Score
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	ranked := make([]LeaderboardEntry, 0, len(best))
	for id, score := range best {
		ranked = append(ranked, LeaderboardEntry{PlayerID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score < ranked[j].Score
		}
		return ranked[i].PlayerID < ranked[j].PlayerID
	})

	if offset >= len(ranked) {
		s.pages.Set(pageKey, scanPage{}, scanPageTTL)
		return nil, "", nil
	}
	end := offset + q.Limit
	next := ""
	if end < len(ranked) {
		next = strconv.Itoa(end)
	} else {
		end = len(ranked)
	}
	page := ranked[offset:end]
	for i := range page {
		page[i].Rank = offset + i + 1
	}
	s.pages.Set(pageKey, scanPage{entries: page, next: next}, scanPageTTL)
	return page, next, nil
}
