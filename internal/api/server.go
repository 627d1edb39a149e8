// SPDX-License-Identifier: MIT

// Package api is the HTTP and streaming edge of the service. Handlers decode
// and authenticate, call into the domain services, and map error kinds to
// status codes; no game rules live here.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/admin"
	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/health"
	"github.com/ManuGH/lowroll/internal/identity"
	"github.com/ManuGH/lowroll/internal/log"
	"github.com/ManuGH/lowroll/internal/moderation"
	"github.com/ManuGH/lowroll/internal/profile"
	"github.com/ManuGH/lowroll/internal/ratelimit"
	"github.com/ManuGH/lowroll/internal/room"
	"github.com/ManuGH/lowroll/internal/session"
	"github.com/ManuGH/lowroll/internal/store"
	"github.com/ManuGH/lowroll/internal/stream"
)

// Options wires the server to its services.
type Options struct {
	Identity   *identity.Service
	AdminCfg   identity.AdminConfig
	Registry   *room.Registry
	Sessions   *session.Manager
	Hub        *stream.Hub
	Profiles   *profile.Service
	Moderation *moderation.Service
	Admin      *admin.Service
	Store      store.Store
	Health     *health.Manager
	Limiter    *ratelimit.Limiter

	AllowedOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	identity   *identity.Service
	adminCfg   identity.AdminConfig
	registry   *room.Registry
	sessions   *session.Manager
	hub        *stream.Hub
	profiles   *profile.Service
	moderation *moderation.Service
	admin      *admin.Service
	store      store.Store
	health     *health.Manager
	limiter    *ratelimit.Limiter
	origins    []string
	logger     zerolog.Logger
}

// New constructs the server.
func New(opts Options) *Server {
	return &Server{
		identity:   opts.Identity,
		adminCfg:   opts.AdminCfg,
		registry:   opts.Registry,
		sessions:   opts.Sessions,
		hub:        opts.Hub,
		profiles:   opts.Profiles,
		moderation: opts.Moderation,
		admin:      opts.Admin,
		store:      opts.Store,
		health:     opts.Health,
		limiter:    opts.Limiter,
		origins:    opts.AllowedOrigins,
		logger:     log.WithComponent("api"),
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(Tracing("lowroll"))
	r.Use(RequestID)
	r.Use(CORS(s.origins))
	r.Use(log.Middleware())
	r.Use(RateLimit(s.limiter))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		if s.health != nil {
			r.Get("/healthz", s.health.ServeHealth)
			r.Get("/readyz", s.health.ServeReady)
		}

		r.Get("/identity", s.handleIdentity)
		r.Get("/profile/{playerID}", s.handleGetProfile)
		r.Put("/profile/{playerID}", s.handlePutProfile)
		r.Post("/profile/{playerID}/scores", s.handleSubmitScores)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Route("/multiplayer", func(r chi.Router) {
			r.Get("/rooms", s.handleListRooms)
			r.Post("/rooms", s.handleCreateRoom)
			r.Post("/rooms/join", s.handleJoinPublic)
			r.Post("/rooms/{code}/join", s.handleJoinByCode)

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Post("/join", s.handleJoinSession)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/participant-state", s.handleParticipantState)
				r.Post("/leave", s.handleLeave)
				r.Post("/queue-next", s.handleQueueNext)
				r.Post("/moderate", s.handleModerate)
				r.Get("/stream", s.handleStream)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/overview", s.adminGate(identity.RoleViewer, s.handleAdminOverview))
			r.Get("/metrics", s.adminGate(identity.RoleViewer, s.handleAdminMetrics))
			r.Get("/rooms", s.adminGate(identity.RoleViewer, s.handleAdminRooms))
			r.Get("/storage", s.adminGate(identity.RoleViewer, s.handleAdminStorage))
			r.Get("/audit", s.adminGate(identity.RoleViewer, s.handleAdminAudit))
			r.Get("/roles", s.adminGate(identity.RoleViewer, s.handleAdminRolesList))

			r.Post("/rooms/{roomID}/expire", s.adminGate(identity.RoleOperator, s.handleAdminExpireRoom))
			r.Post("/rooms/{roomID}/broadcast", s.adminGate(identity.RoleOperator, s.handleAdminBroadcast))
			r.Post("/participants/{participantID}/remove", s.adminGate(identity.RoleOperator, s.handleAdminRemoveParticipant))
			r.Post("/moderation/terms", s.adminGate(identity.RoleOperator, s.handleAdminTerms))
			r.Post("/moderation/clear", s.adminGate(identity.RoleOperator, s.handleAdminClearConduct))

			r.Put("/roles/{uid}", s.adminGate(identity.RoleOwner, s.handleAdminAssignRole))
		})
	})
	return r
}

// resolve authenticates the request and enriches the identity with any stored
// role binding for its subject.
func (s *Server) resolve(r *http.Request) (identity.Identity, error) {
	ident, err := s.identity.Resolve(r)
	if err != nil {
		return identity.Identity{}, err
	}
	if ident.Subject != "" && s.admin != nil {
		if role, ok := s.admin.RoleFor(r.Context(), ident.Subject); ok {
			ident.Roles = append(ident.Roles, role)
		}
	}
	return ident, nil
}

// adminGate authenticates, authorizes against the admin access mode, and
// stamps the actor ID for audit records.
func (s *Server) adminGate(need identity.Role, h func(w http.ResponseWriter, r *http.Request, actorID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.resolve(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if err := identity.AuthorizeAdmin(s.adminCfg, r, ident, need); err != nil {
			writeErr(w, r, err)
			return
		}
		actor := ident.PlayerID
		if r.Header.Get(identity.AdminHeader) != "" {
			actor = "admin-token"
		}
		h(w, r, actor)
	}
}

// requireSelf rejects callers acting on someone else's resources.
func requireSelf(ident identity.Identity, playerID string) error {
	if ident.PlayerID != playerID {
		return apperr.E(apperr.KindForbidden, "resource belongs to a different player")
	}
	return nil
}
