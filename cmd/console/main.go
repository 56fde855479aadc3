package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/calyptra-labs/stakedeck/internal/api"
	"github.com/calyptra-labs/stakedeck/internal/chain"
	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/events"
	"github.com/calyptra-labs/stakedeck/internal/metadata"
	"github.com/calyptra-labs/stakedeck/internal/orchestrator"
	"github.com/calyptra-labs/stakedeck/internal/reconcile"
	"github.com/calyptra-labs/stakedeck/internal/retry"
	"github.com/calyptra-labs/stakedeck/internal/rewards"
	"github.com/calyptra-labs/stakedeck/internal/state"
)

var (
	configPath = flag.String("config", "config/config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load .env file if present
	_ = godotenv.Load()

	logger := setupLogger()

	logger.Info().
		Str("service", "console").
		Str("config_path", *configPath).
		Msg("Starting StakeDeck console")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Monitoring.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("network", cfg.Network.Name).
		Uint64("chain_id", cfg.Network.ChainID).
		Msg("Configuration loaded")

	store := state.NewStore()
	caller := retry.NewCaller(&cfg.Retry, logger)
	wallet := chain.NewKeystoreWallet(&cfg.Wallet, logger)

	connector, err := chain.NewConnector(cfg, wallet, caller, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to reach the target network")
	}
	defer connector.Close()

	resolver := metadata.NewResolver(&cfg.Metadata, logger)
	engine := reconcile.NewEngine(connector.Collection(), connector.Staking(), resolver, caller, store, logger)
	refresher := rewards.NewRefresher(connector.Staking(), caller, store, cfg, logger)
	watcher := events.NewWatcher(connector.Client(), connector.Staking(), store, resolver, refresher, caller, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := orchestrator.NewOrchestrator(
		ctx, cfg, wallet,
		connector.Collection(), connector.Staking(), connector.Client(),
		caller, store, engine, refresher, logger,
	)

	server := api.NewServer(ctx, cfg, store, connector, orch, engine, refresher, connector.Client(), logger)

	// Restore the previous session unless the user disconnected last time
	if connector.ShouldAutoConnect() {
		if err := connector.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("Automatic reconnect failed, waiting for manual connect")
		} else {
			engine.ScheduleAfter(ctx, 0)
			refresher.Kick()
		}
	}

	go refresher.Run(ctx)
	go watcher.Run(ctx)
	go connector.RunStatusPoll(ctx)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	logger.Info().
		Str("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("StakeDeck console ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}

	logger.Info().Msg("StakeDeck console stopped")
}

func setupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	env := os.Getenv("STAKEDECK_ENVIRONMENT")
	if env == "" || env == "development" || env == "testnet" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Caller().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()
}
