// SPDX-License-Identifier: MIT

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	inner := E(KindRoomFull, "room is full")
	outer := fmt.Errorf("join: %w", inner)

	assert.Equal(t, KindRoomFull, KindOf(outer))
	assert.True(t, errors.Is(outer, E(KindRoomFull, "")))
	assert.False(t, errors.Is(outer, E(KindRoomClosed, "")))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestMessageOfHidesInternalDetail(t *testing.T) {
	err := Wrap(KindInternal, "store write exploded", errors.New("disk on fire"))
	assert.Equal(t, "internal server error", MessageOf(err))

	user := E(KindWrongTurn, "not your turn")
	assert.Equal(t, "not your turn", MessageOf(user))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:       http.StatusBadRequest,
		KindInvalidSelection: http.StatusBadRequest,
		KindWrongTurn:        http.StatusBadRequest,
		KindWrongPhase:       http.StatusBadRequest,
		KindUnauthenticated:  http.StatusUnauthorized,
		KindForbidden:        http.StatusForbidden,
		KindNotFound:         http.StatusNotFound,
		KindRoomFull:         http.StatusConflict,
		KindRoomClosed:       http.StatusConflict,
		KindRoomBanned:       http.StatusConflict,
		KindMuted:            http.StatusConflict,
		KindBlocked:          http.StatusConflict,
		KindTransient:        http.StatusServiceUnavailable,
		KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("badger: key not found")
	err := Wrap(KindNotFound, "profile missing", cause)
	assert.ErrorIs(t, err, cause)
}
