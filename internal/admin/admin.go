// SPDX-License-Identifier: MIT

// Package admin implements the operator surface: read-only inspection of
// rooms, metrics, storage and the audit trail, plus the gated mutations.
// Every mutation appends an audit record before it returns.
package admin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/audit"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/metrics"
	"github.com/ManuGH/lowroll/internal/moderation"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/store"
	"github.com/ManuGH/lowroll/internal/stream"
)

// ParticipantRemover detaches a participant from a live session. The session
// manager satisfies this.
type ParticipantRemover interface {
	Leave(sessionID, participantID, reason string) error
}

// Service wires the admin operations over the runtime components.
type Service struct {
	registry   *room.Registry
	sessions   ParticipantRemover
	st         store.Store
	auditLog   *audit.Log
	moderation *moderation.Service
	hub        *stream.Hub
	logger     zerolog.Logger
	now        func() time.Time

	version   string
	startedAt time.Time
}

// New constructs the admin service. sessions may be nil in tests that never
// remove participants; hub may be nil when broadcasts are not needed.
func New(registry *room.Registry, sessions ParticipantRemover, st store.Store, auditLog *audit.Log, mod *moderation.Service, hub *stream.Hub, version string) *Service {
	return &Service{
		registry:   registry,
		sessions:   sessions,
		st:         st,
		auditLog:   auditLog,
		moderation: mod,
		hub:        hub,
		logger:     log.WithComponent("admin"),
		now:        time.Now,
		version:    version,
		startedAt:  time.Now(),
	}
}

// Overview is the landing summary for the admin dashboard.
type Overview struct {
	Version            string     `json:"version"`
	StartedAt          time.Time  `json:"startedAt"`
	UptimeSeconds      int64      `json:"uptimeSeconds"`
	RoomsActive        int        `json:"roomsActive"`
	ParticipantsActive int64      `json:"participantsActive"`
	StreamSubscribers  int64      `json:"streamSubscribers"`
	Storage            store.Info `json:"storage"`
}

// Overview reports the current service shape.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	info, err := s.st.Info(ctx)
	if err != nil {
		return Overview{}, err
	}
	snap := metrics.Current()
	return Overview{
		Version:            s.version,
		StartedAt:          s.startedAt,
		UptimeSeconds:      int64(s.now().Sub(s.startedAt).Seconds()),
		RoomsActive:        s.registry.Count(),
		ParticipantsActive: snap.ParticipantsActive,
		StreamSubscribers:  snap.StreamSubscribers,
		Storage:            info,
	}, nil
}

// Metrics returns the counter snapshot mirrored for the admin endpoint.
func (s *Service) Metrics() metrics.Snapshot { return metrics.Current() }

// RoomDetail is the unfiltered admin projection of a room, private rooms and
// ban lists included.
type RoomDetail struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Difficulty     room.Difficulty `json:"difficulty"`
	Visibility     room.Visibility `json:"visibility"`
	MaxPlayers     int             `json:"maxPlayers"`
	TurnMode       room.TurnMode   `json:"turnMode"`
	Status         room.Status     `json:"status"`
	SessionID      string          `json:"sessionId"`
	BannedPlayers  []string        `json:"bannedPlayers,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

// ListRooms returns every live room, newest first.
func (s *Service) ListRooms() []RoomDetail {
	rooms := s.registry.All()
	out := make([]RoomDetail, 0, len(rooms))
	for _, r := range rooms {
		d := RoomDetail{
			ID:             r.ID,
			Name:           r.Name,
			Difficulty:     r.Difficulty,
			Visibility:     r.Visibility,
			MaxPlayers:     r.MaxPlayers,
			TurnMode:       r.TurnMode,
			Status:         r.Status,
			SessionID:      r.SessionID,
			CreatedAt:      r.CreatedAt,
			LastActivityAt: r.LastActivityAt,
		}
		for id := range r.BannedPlayerIDs {
			d.BannedPlayers = append(d.BannedPlayers, id)
		}
		out = append(out, d)
	}
	return out
}

// StorageInfo reports the active backend and section counts.
func (s *Service) StorageInfo(ctx context.Context) (store.Info, error) {
	return s.st.Info(ctx)
}

// Audit pages the audit trail newest-first.
func (s *Service) Audit(ctx context.Context, cursor string, limit int) ([]audit.Record, string, error) {
	return s.auditLog.Page(ctx, cursor, limit)
}

// ExpireRoom closes a room immediately and records the action.
func (s *Service) ExpireRoom(ctx context.Context, actorID, roomID, reason string) error {
	r, err := s.registry.Get(roomID)
	if err != nil {
		return err
	}
	before, _ := json.Marshal(r)
	if reason == "" {
		reason = "admin"
	}
	if err := s.registry.Expire(ctx, roomID, reason); err != nil {
		return err
	}
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "room.expire",
		Subject: roomID,
		Before:  before,
		Reason:  reason,
	})
}

// RemoveParticipant detaches a participant from a session and records the
// action.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, sessionID, participantID, reason string) error {
	if s.sessions == nil {
		return apperr.E(apperr.KindInternal, "session manager not wired")
	}
	if err := s.sessions.Leave(sessionID, participantID, "removed"); err != nil {
		return err
	}
	metrics.IncModerationAction("kick")
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "participant.remove",
		Subject: sessionID + "/" + participantID,
		Reason:  reason,
	})
}

// BroadcastChaos pushes an operator-triggered cosmetic event to every
// subscriber of a room and records the action.
func (s *Service) BroadcastChaos(ctx context.Context, actorID, roomID, message string) error {
	if message == "" {
		return apperr.E(apperr.KindBadRequest, "message is required")
	}
	if _, err := s.registry.Get(roomID); err != nil {
		return err
	}
	payload := map[string]any{
		"roomId":  roomID,
		"message": message,
		"at":      s.now(),
	}
	if s.hub != nil {
		s.hub.Publish(roomID, stream.Event{Type: stream.EventChaosEvent, Payload: payload})
	}
	after, _ := json.Marshal(payload)
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "room.broadcast",
		Subject: roomID,
		After:   after,
	})
}

// RoleAssignment is one durable uid-to-role binding.
type RoleAssignment struct {
	UID        string        `json:"uid"`
	Role       identity.Role `json:"role"`
	AssignedBy string        `json:"assignedBy"`
	AssignedAt time.Time     `json:"assignedAt"`
}

// AssignRole binds a role to a federated subject. An empty role revokes the
// binding.
func (s *Service) AssignRole(ctx context.Context, actorID, uid string, role identity.Role) error {
	if uid == "" {
		return apperr.E(apperr.KindBadRequest, "uid is required")
	}

	var before json.RawMessage
	if doc, err := s.st.Get(ctx, store.SectionRoles, uid); err == nil {
		before = doc
	}

	if role == "" {
		if err := s.st.Delete(ctx, store.SectionRoles, uid); err != nil {
			return err
		}
		return s.append(ctx, audit.Record{
			ActorID: actorID,
			Action:  "role.revoke",
			Subject: uid,
			Before:  before,
		})
	}

	if !identity.ValidRole(role) {
		return apperr.Ef(apperr.KindBadRequest, "unknown role %q", role)
	}
	asg := RoleAssignment{UID: uid, Role: role, AssignedBy: actorID, AssignedAt: s.now()}
	err := store.WithRetry(ctx, store.DefaultRetry, func() error {
		return store.PutJSON(ctx, s.st, store.SectionRoles, uid, asg)
	})
	if err != nil {
		return err
	}
	after, _ := json.Marshal(asg)
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "role.assign",
		Subject: uid,
		Before:  before,
		After:   after,
	})
}

// RolesList returns every durable role binding.
func (s *Service) RolesList(ctx context.Context) ([]RoleAssignment, error) {
	var out []RoleAssignment
	err := s.st.Scan(ctx, store.SectionRoles, "", func(_ string, doc []byte) error {
		var asg RoleAssignment
		if err := json.Unmarshal(doc, &asg); err != nil {
			return nil
		}
		out = append(out, asg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RoleFor resolves the stored role for a subject, if any.
func (s *Service) RoleFor(ctx context.Context, uid string) (identity.Role, bool) {
	var asg RoleAssignment
	if err := store.GetJSON(ctx, s.st, store.SectionRoles, uid, &asg); err != nil {
		return "", false
	}
	return asg.Role, true
}

// AddTerm installs a managed moderation term and records the action.
func (s *Service) AddTerm(ctx context.Context, actorID string, t moderation.Term) error {
	if err := s.moderation.AddTerm(ctx, t); err != nil {
		return err
	}
	after, _ := json.Marshal(t)
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "term.add",
		Subject: moderation.Normalize(t.Pattern),
		After:   after,
	})
}

// RemoveTerm drops a managed moderation term and records the action.
func (s *Service) RemoveTerm(ctx context.Context, actorID, pattern string) error {
	if err := s.moderation.RemoveTerm(ctx, pattern); err != nil {
		return err
	}
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "term.remove",
		Subject: moderation.Normalize(pattern),
	})
}

// ClearConduct resets a player's strike ladder and lifts any mute, keeping
// the incident history, and records the action.
func (s *Service) ClearConduct(ctx context.Context, actorID, playerID string) error {
	before, _ := json.Marshal(s.moderation.GetConduct(ctx, playerID))
	s.moderation.ClearStrikes(ctx, playerID)
	after, _ := json.Marshal(s.moderation.GetConduct(ctx, playerID))
	return s.append(ctx, audit.Record{
		ActorID: actorID,
		Action:  "conduct.clear",
		Subject: playerID,
		Before:  before,
		After:   after,
	})
}

func (s *Service) append(ctx context.Context, rec audit.Record) error {
	rec.At = s.now()
	if rec.ActorKind == "" {
		rec.ActorKind = audit.ActorAdmin
	}
	if err := s.auditLog.Append(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("action", rec.Action).Msg("audit append failed")
		return err
	}
	return nil
}
