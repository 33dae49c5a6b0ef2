package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/roadmap-agent/internal/config"
	"github.com/p-blackswan/roadmap-agent/internal/health"
	"github.com/p-blackswan/roadmap-agent/internal/metrics"
	"github.com/p-blackswan/roadmap-agent/internal/mgmt"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/internal/mirror/slackmirror"
	"github.com/p-blackswan/roadmap-agent/internal/mirror/telegram"
	"github.com/p-blackswan/roadmap-agent/internal/render"
	"github.com/p-blackswan/roadmap-agent/internal/roadmap"
	"github.com/p-blackswan/roadmap-agent/internal/store"
)

// backend is a mirror port that can also verify its credentials.
type backend interface {
	mirror.Port
	Ping(ctx context.Context) (string, error)
}

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Str("mirror_backend", cfg.MirrorBackend).
		Bool("mirror_enabled", cfg.MirrorEnabled()).
		Msg("starting roadmap agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer ds.Close()

	if cfg.EventRetention > 0 {
		go ds.RunRetention(ctx, cfg.EventRetention, time.Hour)
	}

	st := roadmap.NewStore(ds, logger)
	m := metrics.New()

	checker := health.NewChecker(logger)
	checker.Register("database", health.Required(st.Ping))

	profile, err := render.LoadProfile(cfg.RenderProfilePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load render profile")
	}
	renderer, err := render.New(cfg.RenderFormat(), profile, cfg.EffectiveMaxLength())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build renderer")
	}

	var port backend
	switch {
	case cfg.TelegramEnabled():
		port = telegram.New(cfg.TelegramBotToken, cfg.TelegramAPIURL, cfg.TelegramTimeout,
			telegram.WithMetrics(m), telegram.WithLogger(logger))
	case cfg.SlackEnabled():
		port = slackmirror.NewFromToken(cfg.SlackBotToken, m, logger)
	default:
		logger.Info().Msg("no mirror backend configured, roadmaps are kept locally only")
	}

	// A nil *mirror.Engine must not reach the coordinator as a non-nil interface.
	var syncer roadmap.Syncer
	if port != nil {
		syncer = mirror.NewEngine(port, st, roadmap.ContentSource(st, renderer), m, logger)
		checker.Register("mirror", health.Optional(func(ctx context.Context) error {
			_, err := port.Ping(ctx)
			return err
		}))

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if name, err := port.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Msg("mirror backend not reachable at startup (non-fatal)")
		} else {
			logger.Info().Str("bot", name).Msg("mirror backend identity resolved")
		}
		cancel()
	}

	coord := roadmap.NewCoordinator(st, syncer, m, cfg.ConflictRetries, logger)

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins: cfg.MgmtCORSOrigins,
	}, coord, renderer, checker, m, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mgmtServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
	case err := <-errCh:
		logger.Error().Err(err).Msg("management API server stopped unexpectedly")
	}

	done := make(chan struct{})
	go func() {
		if err := mgmtServer.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("management API server shutdown error")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("roadmap agent stopped")
}
