// SPDX-License-Identifier: MIT

// Package stream fans out session events to subscribed participants. Each
// room has a totally ordered event sequence; the hub preserves that order per
// subscriber and disconnects subscribers that cannot keep up.
package stream

import (
	"encoding/json"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// EventType tags every server-to-client frame.
type EventType string

const (
	EventSessionState       EventType = "session_state"
	EventTurnStart          EventType = "turn_start"
	EventRollResult         EventType = "roll_result"
	EventScoreCommitted     EventType = "score_committed"
	EventTurnEnd            EventType = "turn_end"
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantState   EventType = "participant_state"
	EventChatMessage        EventType = "chat_message"
	EventSystemNotification EventType = "system_notification"
	EventModerationEvent    EventType = "moderation_event"
	EventChaosEvent         EventType = "chaos_event"
	EventRoomClosed         EventType = "room_closed"
)

// Event is one ordered frame. Payload must marshal to a JSON object; the hub
// flattens the type tag into it on the wire.
type Event struct {
	Type    EventType
	Payload any
	// Target restricts delivery to a single participant (for example the
	// snapshot on resume, or a blocked-sender suppression). Empty broadcasts.
	Target string
}

// MarshalJSON flattens {type, ...payload} into a single object.
func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, apperr.Ef(apperr.KindInternal, "event payload for %s is not a JSON object", e.Type)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(e.Type)
	return json.Marshal(fields)
}

// ClientFrameType tags every client-to-server frame.
type ClientFrameType string

const (
	FrameTurnAction ClientFrameType = "turn_action"
	FrameChat       ClientFrameType = "chat"
	FrameHeartbeat  ClientFrameType = "heartbeat"
)

// ClientFrame is the decoded inbound frame. Exactly the fields for the three
// supported types; unknown types are a protocol error, unknown extra fields
// are ignored for forward compatibility.
type ClientFrame struct {
	Type ClientFrameType `json:"type"`

	// turn_action
	Action       string   `json:"action,omitempty"` // roll|score|stop
	ServerRollID string   `json:"serverRollId,omitempty"`
	Selection    []string `json:"selection,omitempty"`
	Points       *int     `json:"points,omitempty"` // client claim, diagnostics only

	// chat
	Channel string `json:"channel,omitempty"`
	Body    string `json:"body,omitempty"`
	To      string `json:"to,omitempty"`
}

// MaxFrameSize bounds inbound frames.
const MaxFrameSize = 64 * 1024

// DecodeClientFrame parses and validates an inbound frame.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	if len(raw) > MaxFrameSize {
		return ClientFrame{}, apperr.E(apperr.KindBadRequest, "frame exceeds size limit")
	}
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientFrame{}, apperr.Wrap(apperr.KindBadRequest, "malformed frame", err)
	}
	switch f.Type {
	case FrameTurnAction:
		if f.Action != "roll" && f.Action != "score" && f.Action != "stop" {
			return ClientFrame{}, apperr.Ef(apperr.KindBadRequest, "unknown turn action %q", f.Action)
		}
	case FrameChat:
		if f.Body == "" {
			return ClientFrame{}, apperr.E(apperr.KindBadRequest, "chat body is empty")
		}
	case FrameHeartbeat:
	default:
		return ClientFrame{}, apperr.Ef(apperr.KindBadRequest, "unknown frame type %q", f.Type)
	}
	return f, nil
}
