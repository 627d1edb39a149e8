// SPDX-License-Identifier: MIT

// The daemon is the single-instance game server: it owns every room in
// process, serves the HTTP and streaming API, and runs the background tickers
// that drive turn deadlines, bots, liveness and expiry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/lowroll/internal/admin"
	"github.com/ManuGH/lowroll/internal/api"
	"github.com/ManuGH/lowroll/internal/audit"
	"github.com/ManuGH/lowroll/internal/config"
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
	"github.com/ManuGH/lowroll/internal/telemetry"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes: 1 configuration, 2 storage, 3 bind.
const (
	exitConfig = 1
	exitStore  = 2
	exitBind   = 3
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "lowroll", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("configuration load failed")
		os.Exit(exitConfig)
	}
	log.Configure(log.Config{Level: cfg.LogLevel})
	logger.Info().Interface("config", cfg.Redacted()).Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Error().Err(err).Msg("startup checks failed")
		os.Exit(exitConfig)
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "lowroll",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SamplingRate:   cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Error().Err(err).Msg("tracing setup failed")
		os.Exit(exitConfig)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("trace flush incomplete")
		}
	}()

	st, err := store.New(store.Options{
		Backend: cfg.StoreBackend,
		DataDir: cfg.DataDir,
		Prefix:  cfg.StorePrefix,
	})
	if err != nil {
		logger.Error().Err(err).Msg("store open failed")
		os.Exit(exitStore)
	}
	defer st.Close()
	if err := store.SelfCheck(ctx, st); err != nil {
		logger.Error().Err(err).Msg("store self-check failed")
		os.Exit(exitStore)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
	}

	idsvc := identity.New(identity.Config{
		Mode:           cfg.AuthMode,
		LegacySecret:   []byte(cfg.LegacyTokenSecret),
		StrictSecret:   []byte(cfg.StrictSecret),
		StrictIssuer:   cfg.StrictIssuer,
		StrictAudience: cfg.StrictAudience,
	})

	registry := room.NewRegistry(st)
	hub := stream.NewHub()
	sessions := session.NewManager(registry, hub, idsvc, session.Options{
		TurnTimeout:    cfg.TurnTimeout(),
		Liveness:       cfg.HeartbeatLiveness(),
		QueueNextDelay: cfg.QueueNextDelay(),
	})

	// Ladder bans remove the player from the room's live session too.
	mod := moderation.New(st, moderation.Config{
		MuteThreshold: cfg.MuteThreshold,
		BanThreshold:  cfg.BanThreshold,
		MuteWindow:    cfg.MuteWindow(),
	}, func(roomID, playerID string) error {
		if err := registry.Ban(roomID, playerID); err != nil {
			return err
		}
		r, err := registry.Get(roomID)
		if err != nil {
			return err
		}
		return sessions.Leave(r.SessionID, playerID, "banned")
	})
	if err := mod.LoadManagedTerms(ctx); err != nil {
		logger.Warn().Err(err).Msg("managed terms load failed")
	}
	if cfg.TermsFile != "" {
		if err := mod.WatchTermsFile(ctx, cfg.TermsFile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.TermsFile).Msg("terms file watch failed")
		}
	}

	profiles := profile.New(st, rdb)
	auditLog := audit.New(st)
	adm := admin.New(registry, sessions, st, auditLog, mod, hub, version)

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewStoreChecker(st))
	hm.RegisterChecker(health.NewRedisChecker(rdb))

	registry.EnsureSeeded(ctx)

	srv := api.New(api.Options{
		Identity:   idsvc,
		AdminCfg:   identity.AdminConfig{Mode: cfg.AdminAccessMode, Token: cfg.AdminToken},
		Registry:   registry,
		Sessions:   sessions,
		Hub:        hub,
		Profiles:   profiles,
		Moderation: mod,
		Admin:      adm,
		Store:      st,
		Health:     hm,
		Limiter: ratelimit.New(ratelimit.Config{
			GlobalRate:      float64(cfg.RateLimitRPS),
			GlobalBurst:     cfg.RateLimitBurst,
			PerIPRate:       float64(cfg.RateLimitRPS) / 5,
			PerIPBurst:      cfg.RateLimitBurst / 5,
			CleanupInterval: 5 * time.Minute,
		}),
		AllowedOrigins: []string{"*"},
	})

	httpSrv := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error().Err(err).Str("addr", cfg.ListenAddr).Msg("listen failed")
		os.Exit(exitBind)
	}
	logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")

	go runTickers(ctx, cfg, sessions, registry, auditLog)

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			os.Exit(exitBind)
		}
	case <-ctx.Done():
	}

	shutdown(cfg, httpSrv, registry, logger)
}

// runTickers drives the background loops until ctx ends. Each tick is
// deterministic given its now, so tests exercise the underlying methods
// directly.
func runTickers(ctx context.Context, cfg config.Config, sessions *session.Manager, registry *room.Registry, auditLog *audit.Log) {
	turnTick := time.NewTicker(250 * time.Millisecond)
	sweepTick := time.NewTicker(5 * time.Second)
	roomTick := time.NewTicker(10 * time.Second)
	auditTick := time.NewTicker(time.Hour)
	defer turnTick.Stop()
	defer sweepTick.Stop()
	defer roomTick.Stop()
	defer auditTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-turnTick.C:
			sessions.TickTurns(now)
		case now := <-sweepTick.C:
			sessions.SweepOnce(ctx, now)
		case now := <-roomTick.C:
			registry.SweepOnce(ctx, now, cfg.RoomInactivity())
		case now := <-auditTick.C:
			if _, err := auditLog.Truncate(ctx, now.Add(-cfg.AuditRetention())); err != nil {
				logger := log.WithComponent("daemon")
				logger.Warn().Err(err).Msg("audit retention failed")
			}
		}
	}
}

// shutdown drains HTTP, then closes every room so subscribers get a final
// room_closed frame instead of a dead socket.
func shutdown(cfg config.Config, httpSrv *http.Server, registry *room.Registry, logger zerolog.Logger) {
	logger.Info().Dur("drain", cfg.ShutdownDrain()).Msg("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrain())
	defer cancel()
	if err := httpSrv.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("http drain incomplete")
	}

	for _, r := range registry.All() {
		if err := registry.Expire(drainCtx, r.ID, "shutdown"); err != nil {
			logger.Warn().Err(err).Str(log.FieldRoomID, r.ID).Msg("room close on shutdown failed")
		}
	}
	logger.Info().Msg("shutdown complete")
}
