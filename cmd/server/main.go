// Package main is the entry point for the rebalancing decision engine
// service. It wires configuration, the tax-lot ledger database, the decision
// pipeline, the HTTP API and a daily maintenance scheduler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/federico-bidone/FAIR-sub001/internal/config"
	"github.com/federico-bidone/FAIR-sub001/internal/database"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/decision"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/ledger"
	"github.com/federico-bidone/FAIR-sub001/internal/scheduler"
	"github.com/federico-bidone/FAIR-sub001/internal/server"
	"github.com/federico-bidone/FAIR-sub001/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting rebalancing decision engine")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	store := ledger.NewStore(ledgerDB.Conn(), log)
	if err := store.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger schema")
	}
	ledgerSvc := ledger.NewService(store, log)

	decisionSvc := decision.New(
		ledgerSvc,
		cfg.Engine.BootstrapOptions(),
		cfg.Engine.TaxRules(),
		cfg.Engine.DriftBand,
		log,
	)

	sched := scheduler.New(log)
	if err := sched.AddJob("@daily", scheduler.NewMinusBagPurgeJob(ledgerSvc, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register purge job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Decision: decisionSvc,
		Ledger:   ledgerSvc,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
