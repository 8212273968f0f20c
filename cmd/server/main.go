// Command server runs the WhatsApp multi-session gateway: it opens the
// database, restores previously active sessions, and serves the REST API
// until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-wa-gateway/internal/config"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	httpapi "github.com/tbourn/go-wa-gateway/internal/http"
	"github.com/tbourn/go-wa-gateway/internal/observability"
	"github.com/tbourn/go-wa-gateway/internal/repo"
	"github.com/tbourn/go-wa-gateway/internal/sysutil"
	"github.com/tbourn/go-wa-gateway/internal/transport"
)

const version = "1.0.0"

func main() {
	// Load .env for local development; environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless OTEL_ENABLED)
	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	creds, err := transport.NewFSStore(cfg.SessionFolder)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SessionFolder).Msg("create session folder")
	}

	mgr := gateway.NewManager(db, &transport.WhatsmeowDialer{}, creds, gateway.Options{
		PairingTimeout: cfg.PairingTimeout,
		APIKeySecret:   cfg.APIKeySecret,
		Reconnect: gateway.ReconnectPolicy{
			BaseDelay:  cfg.Reconnect.BaseDelay,
			MaxDelay:   cfg.Reconnect.MaxDelay,
			MaxRetries: cfg.Reconnect.MaxRetries,
		},
		Webhooks: gateway.NewDeliverer(cfg.WebhookTimeout, logger),
		Logger:   logger,
	})

	// Bring back sessions that were active before the last shutdown.
	if err := mgr.RestoreSessions(ctx); err != nil {
		logger.Error().Err(err).Msg("restore sessions")
	}

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, mgr, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// Drain live connections after the API stops accepting work.
	mgr.Shutdown()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("bye")
}
