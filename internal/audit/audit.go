// SPDX-License-Identifier: MIT

// Package audit provides the append-only audit trail for admin mutations.
// Records are durable in the store's audit section and mirrored to the
// structured log for forensics. It follows the WHO/WHAT/WHEN pattern.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/store"
)

// ActorKind distinguishes who performed the action.
type ActorKind string

const (
	ActorAdmin  ActorKind = "admin"
	ActorSystem ActorKind = "system"
)

// Record is a single audit entry.
type Record struct {
	At        time.Time       `json:"at"`
	ActorID   string          `json:"actorId"`
	ActorKind ActorKind       `json:"actorKind"`
	Action    string          `json:"action"`
	Subject   string          `json:"subject"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Log appends and pages audit records.
type Log struct {
	store  store.Store
	logger zerolog.Logger

	mu  sync.Mutex
	seq uint64
}

// New constructs an audit log over the given store.
func New(st store.Store) *Log {
	return &Log{
		store:  st,
		logger: log.WithComponent("audit"),
	}
}

// Append writes the record durably and mirrors it to the structured log.
// The key is a monotonic timestamp plus an in-process sequence so records in
// the same nanosecond keep their order.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	l.mu.Lock()
	l.seq++
	key := fmt.Sprintf("%020d-%06d", rec.At.UnixNano(), l.seq)
	l.mu.Unlock()

	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = store.WithRetry(ctx, store.DefaultRetry, func() error {
		return l.store.Put(ctx, store.SectionAudit, key, doc)
	})
	if err != nil {
		return err
	}

	l.logger.Info().
		Time("at", rec.At).
		Str("actor", rec.ActorID).
		Str("actor_kind", string(rec.ActorKind)).
		Str("action", rec.Action).
		Str("subject", rec.Subject).
		Str("reason", rec.Reason).
		Msg("audit record")
	return nil
}

// Page returns up to limit records newest-first. cursor is the key of the
// last record from the previous page; empty starts from the newest. The
// returned cursor is stable: appending new records never shifts an existing
// page.
func (l *Log) Page(ctx context.Context, cursor string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		limit = 50
	}
	keys, err := l.store.ListKeys(ctx, store.SectionAudit, "")
	if err != nil {
		return nil, "", err
	}
	// ListKeys is ascending; walk from the end.
	sort.Strings(keys)

	var out []Record
	next := ""
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		if cursor != "" && k >= cursor {
			continue
		}
		doc, err := l.store.Get(ctx, store.SectionAudit, k)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, "", err
		}
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			next = k
			break
		}
	}
	return out, next, nil
}

// Truncate removes records older than the cutoff and returns how many were
// deleted. Called periodically by the retention ticker.
func (l *Log) Truncate(ctx context.Context, cutoff time.Time) (int, error) {
	limitKey := fmt.Sprintf("%020d", cutoff.UnixNano())
	keys, err := l.store.ListKeys(ctx, store.SectionAudit, "")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, k := range keys {
		if k >= limitKey {
			continue
		}
		if err := l.store.Delete(ctx, store.SectionAudit, k); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		l.logger.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("audit retention truncated old records")
	}
	return deleted, nil
}
