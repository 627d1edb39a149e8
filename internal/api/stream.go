// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/session"
	"github.com/ManuGH/lowroll/internal/stream"
)

// chatPayload is the chat_message event body.
type chatPayload struct {
	From     string    `json:"from"`
	FromName string    `json:"fromName,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Body     string    `json:"body"`
	To       string    `json:"to,omitempty"`
	Warned   bool      `json:"warned,omitempty"`
	At       time.Time `json:"at"`
}

// handleStream upgrades to the bidirectional session stream. The caller
// authenticates with the single-use ticket minted at join; the first frame is
// always a session_state snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, participantID, err := s.sessions.Redeem(r.URL.Query().Get("ticket"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if sess.ID != chi.URLParam(r, "sessionID") {
		writeErr(w, r, apperr.E(apperr.KindForbidden, "ticket belongs to a different session"))
		return
	}
	snapshot, err := s.sessions.Snapshot(sess.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	// Subscribe only once the handshake succeeded; a failed upgrade must not
	// leave a dangling subscription behind.
	websocket.Handler(func(conn *websocket.Conn) {
		first := stream.Event{Type: stream.EventSessionState, Payload: *snapshot}
		sub := s.hub.Subscribe(sess.RoomID, participantID, &first)
		s.runStream(conn, sess, participantID, sub)
	}).ServeHTTP(w, r)
}

// runStream owns the connection: the reader goroutine dispatches inbound
// frames, the current goroutine drains the subscription. All writes to conn
// happen here so frames stay ordered.
func (s *Server) runStream(conn *websocket.Conn, sess *session.Session, participantID string, sub *stream.Subscription) {
	logger := s.logger.With().
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldPlayerID, participantID).
		Logger()
	ctx := context.Background()
	if req := conn.Request(); req != nil {
		ctx = req.Context()
	}

	go func() {
		defer s.hub.Unsubscribe(sub)
		for {
			var raw []byte
			if err := websocket.Message.Receive(conn, &raw); err != nil {
				return
			}
			frame, err := stream.DecodeClientFrame(raw)
			if err != nil {
				s.notify(sess.RoomID, participantID, err)
				continue
			}
			s.dispatchFrame(ctx, sess, participantID, frame)
		}
	}()

	for ev := range sub.C() {
		if err := websocket.JSON.Send(conn, ev); err != nil {
			s.hub.Unsubscribe(sub)
			break
		}
	}
	if sub.Reason() == stream.CloseBackpressure {
		logger.Warn().Msg("stream closed for backpressure")
	}
	_ = conn.Close()
}

// dispatchFrame routes one inbound frame. Rejections go back to the sender as
// targeted notifications; the stream itself stays open.
func (s *Server) dispatchFrame(ctx context.Context, sess *session.Session, participantID string, f stream.ClientFrame) {
	switch f.Type {
	case stream.FrameHeartbeat:
		_ = s.sessions.Heartbeat(sess.ID, participantID)

	case stream.FrameTurnAction:
		var err error
		switch f.Action {
		case "roll":
			_, err = s.sessions.RollIntent(sess.ID, participantID)
		case "score":
			_, err = s.sessions.Score(sess.ID, participantID, f.ServerRollID, f.Selection)
		case "stop":
			err = s.sessions.Pass(sess.ID, participantID)
		}
		if err != nil {
			s.notify(sess.RoomID, participantID, err)
		}

	case stream.FrameChat:
		s.dispatchChat(ctx, sess, participantID, f)
	}
}

func (s *Server) dispatchChat(ctx context.Context, sess *session.Session, participantID string, f stream.ClientFrame) {
	verdict, err := s.moderation.CheckChat(ctx, participantID, sess.RoomID, f.Body)
	if err != nil {
		s.hub.Publish(sess.RoomID, stream.Event{
			Type:   stream.EventModerationEvent,
			Target: participantID,
			Payload: map[string]any{
				"code":       string(apperr.KindOf(err)),
				"message":    apperr.MessageOf(err),
				"mutedUntil": verdict.MutedUntil,
			},
		})
		return
	}

	msg := chatPayload{
		From:    participantID,
		Channel: f.Channel,
		Body:    f.Body,
		To:      f.To,
		Warned:  verdict.Warned,
		At:      time.Now(),
	}
	roster, _ := s.sessions.Participants(sess.ID)
	for _, p := range roster {
		if p.PlayerID == participantID {
			msg.FromName = p.DisplayName
			break
		}
	}

	if f.To == "" {
		// Room channel: deliver per recipient so blocklists hold for
		// broadcast chat too.
		for _, p := range roster {
			if p.IsBot {
				continue
			}
			if p.PlayerID != participantID && s.profiles.IsBlocked(ctx, p.PlayerID, participantID) {
				continue
			}
			s.hub.Publish(sess.RoomID, stream.Event{
				Type:    stream.EventChatMessage,
				Target:  p.PlayerID,
				Payload: msg,
			})
		}
		return
	}

	// Direct message: the recipient's blocklist silently drops it for them,
	// with a notice back to the sender.
	if s.profiles.IsBlocked(ctx, f.To, participantID) {
		s.notify(sess.RoomID, participantID, apperr.E(apperr.KindBlocked, "recipient has blocked you"))
		return
	}
	s.hub.Publish(sess.RoomID, stream.Event{Type: stream.EventChatMessage, Payload: msg, Target: f.To})
	s.hub.Publish(sess.RoomID, stream.Event{Type: stream.EventChatMessage, Payload: msg, Target: participantID})
}

// notify sends an error back to a single participant without breaking the
// stream's ordering guarantees.
func (s *Server) notify(roomID, participantID string, err error) {
	s.hub.Publish(roomID, stream.Event{
		Type:   stream.EventSystemNotification,
		Target: participantID,
		Payload: map[string]string{
			"kind":    "error",
			"code":    string(apperr.KindOf(err)),
			"message": apperr.MessageOf(err),
		},
	})
}
