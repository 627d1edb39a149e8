// SPDX-License-Identifier: MIT

// Package apperr defines the closed error taxonomy shared by every component.
// Handlers map kinds to HTTP status codes at the transport edge; internal
// callers branch on kind with errors.Is against the sentinel for each kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error class.
type Kind string

const (
	// Input errors
	KindBadRequest       Kind = "BAD_REQUEST"
	KindInvalidSelection Kind = "INVALID_SELECTION"
	KindWrongTurn        Kind = "WRONG_TURN"
	KindWrongPhase       Kind = "WRONG_PHASE"

	// Auth errors
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"

	// Lookup errors
	KindNotFound Kind = "NOT_FOUND"

	// Conflict errors
	KindRoomFull   Kind = "ROOM_FULL"
	KindRoomClosed Kind = "ROOM_CLOSED"
	KindRoomBanned Kind = "ROOM_BANNED"
	KindMuted      Kind = "MUTED"
	KindBlocked    Kind = "BLOCKED"

	// Availability errors
	KindTransient Kind = "TRANSIENT"

	// Internal errors
	KindInternal Kind = "INTERNAL"

	// Stream errors
	KindBackpressure Kind = "BACKPRESSURE"
)

// Error carries a kind, a user-visible message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so errors.Is(err, apperr.E(kind, "")) works on
// kind sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E constructs a new Error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef constructs a new Error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a new Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf extracts the user-visible message from err. Internal errors get a
// generic message; details stay in logs.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest, KindInvalidSelection, KindWrongTurn, KindWrongPhase:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRoomFull, KindRoomClosed, KindRoomBanned, KindMuted, KindBlocked:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
