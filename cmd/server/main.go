// Command server runs the casino wallet/AML core: an idempotent
// player-wallet transaction engine fronted by a two-tier cache, with
// every deposit/withdrawal fed through an anti-money-laundering
// analysis pipeline.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/casinocore/wallet-engine/internal/aml"
	"github.com/casinocore/wallet-engine/internal/api"
	"github.com/casinocore/wallet-engine/internal/auth"
	"github.com/casinocore/wallet-engine/internal/cache"
	"github.com/casinocore/wallet-engine/internal/config"
	"github.com/casinocore/wallet-engine/internal/encryption"
	"github.com/casinocore/wallet-engine/internal/events"
	"github.com/casinocore/wallet-engine/internal/scheduler"
	"github.com/casinocore/wallet-engine/internal/store"
	"github.com/casinocore/wallet-engine/internal/wallet"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "wallet-engine").Logger()
	if cfg.Environment == "production" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "wallet-engine").Logger()
	}

	pii, err := encryption.New(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PII encryption")
	}

	dataDir := getEnv("DATA_DIR", "./data")
	persistenceEnabled := getEnv("ENABLE_PERSISTENCE", "false") == "true"
	persist, err := store.NewPersistenceManager(dataDir, persistenceEnabled)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize persistence")
	}

	st := store.New(pii)
	if err := persist.Restore(st); err != nil {
		logger.Warn().Err(err).Msg("failed to restore snapshot, starting empty")
	}

	stopAutoSave := make(chan struct{})
	go persist.RunAutoSave(st, 5*time.Minute, stopAutoSave)

	c, err := cache.New(cfg.CacheURL, cfg.HMACKey, cfg.L1CacheCapacity, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cache")
	}
	defer c.Close()

	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	go c.RunInvalidationListener(listenerCtx)

	bus, err := events.New(cfg.CacheURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize event bus")
	}
	defer bus.Close()

	sched := scheduler.New(cfg.SchedulerWorkers, cfg.SchedulerQueueDepth, logger)

	walletSvc := wallet.New(st, c, sched)
	amlSvc := aml.New(st)
	issuer := auth.NewIssuer(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAlgorithm, cfg.JWTTTL)

	handler := api.NewHandler(st, walletSvc, amlSvc, issuer, c, bus, sched)
	router := api.NewRouter(handler, issuer)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("wallet-engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	close(stopAutoSave)
	sched.Stop()
	if err := persist.Save(st); err != nil {
		logger.Warn().Err(err).Msg("final snapshot save failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped gracefully")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
