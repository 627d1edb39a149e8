// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), "test")
	require.NoError(t, err)
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	require.NoError(t, s.Put(ctx, SectionProfiles, "p1", []byte(`{"name":"alice"}`)))

	got, err := s.Get(ctx, SectionProfiles, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice"}`, string(got))
}

func TestFileStoreGetMissing(t *testing.T) {
	s := newTestFileStore(t)
	_, err := s.Get(context.Background(), SectionProfiles, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	require.NoError(t, s.Put(ctx, SectionRooms, "r1", []byte(`{}`)))
	require.NoError(t, s.Delete(ctx, SectionRooms, "r1"))
	require.NoError(t, s.Delete(ctx, SectionRooms, "r1"))

	_, err := s.Get(ctx, SectionRooms, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsInvalidJSON(t *testing.T) {
	s := newTestFileStore(t)
	err := s.Put(context.Background(), SectionRooms, "r1", []byte(`{broken`))
	assert.Error(t, err)
}

func TestFileStoreListKeysPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	for _, k := range []string{"score-b", "score-a", "other-1"} {
		require.NoError(t, s.Put(ctx, SectionScores, k, []byte(`{}`)))
	}

	keys, err := s.ListKeys(ctx, SectionScores, "score-")
	require.NoError(t, err)
	assert.Equal(t, []string{"score-a", "score-b"}, keys)
}

func TestFileStoreScanOrderAndStop(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, SectionAudit, k, []byte(`{"k":"`+k+`"}`)))
	}

	var visited []string
	err := s.Scan(ctx, SectionAudit, "", func(key string, doc []byte) error {
		visited = append(visited, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, visited)

	stop := errors.New("stop")
	visited = nil
	err = s.Scan(ctx, SectionAudit, "", func(key string, doc []byte) error {
		visited = append(visited, key)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Len(t, visited, 1)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewFileStore(dir, "p")
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, SectionProfiles, "p1", []byte(`{"score":42}`)))

	s2, err := NewFileStore(dir, "p")
	require.NoError(t, err)
	got, err := s2.Get(ctx, SectionProfiles, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":42}`, string(got))
}

func TestFileStoreWritesValidSectionFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir, "p")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, SectionRooms, "r1", []byte(`{"id":"r1"}`)))

	raw, err := os.ReadFile(filepath.Join(dir, "p-rooms.json"))
	require.NoError(t, err)
	var docs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &docs))
	assert.Contains(t, docs, "r1")
}

func TestFileStoreInfo(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	require.NoError(t, s.Put(ctx, SectionProfiles, "a", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, SectionProfiles, "b", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, SectionScores, "c", []byte(`{}`)))

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "file", info.Backend)
	assert.Equal(t, 2, info.SectionCounts[SectionProfiles])
	assert.Equal(t, 1, info.SectionCounts[SectionScores])
}

func TestSelfCheck(t *testing.T) {
	s := newTestFileStore(t)
	assert.NoError(t, SelfCheck(context.Background(), s))
}
