// SPDX-License-Identifier: MIT

// Package store provides the section-keyed document store used for all
// durable state. Two backends implement the same contract: a single-process
// file store (one JSON document per section, atomic-rename writes) and a
// Badger-backed document store (one record per key).
package store

import (
	"context"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// Well-known section names.
const (
	SectionProfiles = "profiles"
	SectionScores   = "scores"
	SectionAudit    = "audit"
	SectionRooms    = "rooms"
	SectionConduct  = "conduct"
	SectionTerms    = "terms"
	SectionRoles    = "roles"
)

// Sentinel errors for the three failure classes. Callers branch with
// errors.Is; transient failures are retried with jittered backoff.
var (
	ErrNotFound  = apperr.E(apperr.KindNotFound, "document not found")
	ErrTransient = apperr.E(apperr.KindTransient, "store temporarily unavailable")
	ErrPermanent = apperr.E(apperr.KindInternal, "store failure")
)

// Store is the durability contract shared by every consumer.
type Store interface {
	// Get returns the document stored under (section, key) or ErrNotFound.
	Get(ctx context.Context, section, key string) ([]byte, error)
	// Put stores doc under (section, key), replacing any previous document.
	Put(ctx context.Context, section, key string, doc []byte) error
	// Delete removes (section, key). Deleting a missing key is not an error.
	Delete(ctx context.Context, section, key string) error
	// ListKeys returns the keys in section with the given prefix, sorted.
	ListKeys(ctx context.Context, section, prefix string) ([]string, error)
	// Scan visits every (key, doc) in section with the given prefix in key
	// order. Returning an error from fn stops the scan.
	Scan(ctx context.Context, section, prefix string, fn func(key string, doc []byte) error) error
	// Info reports the active backend and per-section document counts.
	Info(ctx context.Context) (Info, error)
	// Close flushes and releases backend resources.
	Close() error
}

// Info describes the active backend for health and admin surfaces.
type Info struct {
	Backend       string         `json:"backend"`
	Prefix        string         `json:"prefix"`
	SectionCounts map[string]int `json:"sectionCounts"`
}

// SelfCheck writes, reads back and deletes a probe document. Run at startup
// before the server binds; a failing store is exit-code-2 territory.
func SelfCheck(ctx context.Context, s Store) error {
	const section, key = "selfcheck", "probe"
	want := []byte(`{"ok":true}`)
	if err := s.Put(ctx, section, key, want); err != nil {
		return err
	}
	got, err := s.Get(ctx, section, key)
	if err != nil {
		return err
	}
	if string(got) != string(want) {
		return apperr.E(apperr.KindInternal, "store self-check read back mismatched document")
	}
	return s.Delete(ctx, section, key)
}
