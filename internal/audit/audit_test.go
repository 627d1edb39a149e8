// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lowroll/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), "audit-test")
	require.NoError(t, err)
	return New(st)
}

func TestAppendAndPageNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, Record{
			At:      base.Add(time.Duration(i) * time.Second),
			ActorID: "admin-1",
			Action:  "expire_room",
			Subject: "room-" + string(rune('a'+i)),
		}))
	}

	recs, next, err := l.Page(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "room-e", recs[0].Subject)
	assert.Equal(t, "room-d", recs[1].Subject)
	assert.Equal(t, "room-c", recs[2].Subject)
	require.NotEmpty(t, next)

	recs, next, err = l.Page(ctx, next, 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "room-b", recs[0].Subject)
	assert.Equal(t, "room-a", recs[1].Subject)
	assert.Empty(t, next)
}

func TestCursorStableUnderAppends(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Append(ctx, Record{At: base.Add(time.Duration(i) * time.Second), Action: "a", Subject: "s" + string(rune('0'+i))}))
	}

	_, cursor, err := l.Page(ctx, "", 2)
	require.NoError(t, err)

	// A new record lands after the first page was served.
	require.NoError(t, l.Append(ctx, Record{At: base.Add(time.Hour), Action: "a", Subject: "late"}))

	recs, _, err := l.Page(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s1", recs[0].Subject)
	assert.Equal(t, "s0", recs[1].Subject)
}

func TestTruncateRetention(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	require.NoError(t, l.Append(ctx, Record{At: old, Action: "old", Subject: "x"}))
	require.NoError(t, l.Append(ctx, Record{At: recent, Action: "new", Subject: "y"}))

	deleted, err := l.Truncate(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	recs, _, err := l.Page(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].Action)
}
