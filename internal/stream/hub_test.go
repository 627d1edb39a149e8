// SPDX-License-Identifier: MIT

package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishPreservesOrderAcrossSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("room-1", "player-a", nil)
	b := h.Subscribe("room-1", "player-b", nil)

	for i := 0; i < 10; i++ {
		h.Publish("room-1", Event{Type: EventRollResult, Payload: map[string]int{"i": i}})
	}

	evA := drain(a)
	evB := drain(b)
	require.Len(t, evA, 10)
	require.Len(t, evB, 10)
	for i := range evA {
		assert.Equal(t, evA[i].Payload, evB[i].Payload, "event %d", i)
	}
}

func TestSnapshotIsFirstEvent(t *testing.T) {
	h := NewHub()
	snap := Event{Type: EventSessionState, Payload: map[string]string{"phase": "postRoll"}}
	sub := h.Subscribe("room-1", "player-a", &snap)
	h.Publish("room-1", Event{Type: EventTurnEnd, Payload: map[string]string{}})

	evs := drain(sub)
	require.Len(t, evs, 2)
	assert.Equal(t, EventSessionState, evs[0].Type)
	assert.Equal(t, EventTurnEnd, evs[1].Type)
}

func TestTargetedEventSkipsOthers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("room-1", "player-a", nil)
	b := h.Subscribe("room-1", "player-b", nil)

	h.Publish("room-1", Event{Type: EventChatMessage, Target: "player-a", Payload: map[string]string{"body": "psst"}})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestBackpressureDisconnectsSlowSubscriber(t *testing.T) {
	h := NewHubWithBuffer(2)
	slow := h.Subscribe("room-1", "player-a", nil)

	for i := 0; i < 5; i++ {
		h.Publish("room-1", Event{Type: EventRollResult, Payload: map[string]int{"i": i}})
	}

	// Buffer of 2 absorbed two events, the third overflowed and closed it.
	evs := drain(slow)
	assert.Len(t, evs, 2)
	assert.Equal(t, CloseBackpressure, slow.Reason())
	assert.Zero(t, h.SubscriberCount("room-1"))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("room-1", "player-a", nil)
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Equal(t, CloseUnsubscribed, sub.Reason())
	assert.Zero(t, h.SubscriberCount("room-1"))
}

func TestCloseRoomDeliversFinalEvent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("room-1", "player-a", nil)

	final := Event{Type: EventRoomClosed, Payload: map[string]string{"reason": "shutdown"}}
	h.CloseRoom("room-1", &final)

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, EventRoomClosed, evs[0].Type)
	assert.Equal(t, CloseRoomClosed, sub.Reason())
}

func TestEventMarshalFlattensType(t *testing.T) {
	ev := Event{Type: EventTurnStart, Payload: map[string]any{"activePlayerId": "p1"}}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "turn_start", decoded["type"])
	assert.Equal(t, "p1", decoded["activePlayerId"])
}

func TestDecodeClientFrame(t *testing.T) {
	f, err := DecodeClientFrame([]byte(`{"type":"turn_action","action":"roll"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameTurnAction, f.Type)

	f, err = DecodeClientFrame([]byte(`{"type":"chat","channel":"room","body":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", f.Body)

	_, err = DecodeClientFrame([]byte(`{"type":"warp_drive"}`))
	assert.Error(t, err, "unknown frame types are protocol errors")

	_, err = DecodeClientFrame([]byte(`{"type":"turn_action","action":"meditate"}`))
	assert.Error(t, err)

	_, err = DecodeClientFrame([]byte(`{"type":"chat","body":""}`))
	assert.Error(t, err)
}
