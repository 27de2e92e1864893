// Command syncengine is a reference host for the sync engine: it loads
// configuration, opens the Postgres-backed store, starts one Engine for the
// configured profile, and serves the diagnostics HTTP surface. A real
// application embeds the engine packages directly and supplies its own
// table handlers and transport; this binary exists to prove the wiring the
// packages are built around actually runs end to end.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localsync/syncengine/internal/audit"
	"github.com/localsync/syncengine/internal/config"
	diagnosticshttp "github.com/localsync/syncengine/internal/diagnostics/http"
	"github.com/localsync/syncengine/internal/engine"
	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/inspector"
	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/security"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/tablehandler"
)

func main() {
	logger.Init()
	log := logger.Component("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	st := store.New(pool)
	registry := tablehandler.NewRegistry()
	ring := inspector.New(cfg.InspectorCapacity)

	var verifier security.AccessTokenVerifier
	if cfg.DiagnosticsJWTSecret != "" {
		verifier = security.NewHS256Verifier(cfg.DiagnosticsJWTSecret)
	}

	eng := engine.New(engine.Config{
		PollInterval:          cfg.PollInterval,
		FallbackPollInterval:  cfg.FallbackPollInterval,
		ReconnectCatchupDelay: cfg.ReconnectCatchupDelay,
		IdleDebounce:          cfg.IdleDebounce,
		MaxRetries:            cfg.MaxRetries,
		BackoffBaseMS:         cfg.BackoffBaseMS,
		BackoffCapMS:          cfg.BackoffCapMS,
		MaxPushCommits:        cfg.MaxPushCommits,
		MaxPullRounds:         cfg.MaxPullRounds,
	}, engine.Deps{
		ProfileID:     cfg.ProfileID,
		ClientID:      cfg.ClientID,
		Store:         st,
		Outbox:        outbox.New(st),
		Subscriptions: subscription.New(st),
		Registry:      registry,
		Fingerprints:  fingerprint.New(),
		Inspector:     ring,
		Audit:         audit.New(log),
		Transport:     newHTTPTransport(cfg.SyncServerURL),
	})

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	srv := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{
			Engine:    eng,
			Inspector: ring,
			Verifier:  verifier,
			JWTIssuer: cfg.DiagnosticsJWTIssuer,
		}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("diagnostics server failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Str("profile_id", cfg.ProfileID).Msg("syncengine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down syncengine")
	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
