// Package main is the entry point for the agent results tracker. The
// tracker ingests result records dropped by worker agents into a
// versioned object store, values them, folds them into a daily metrics
// snapshot exactly once, archives the processed records, and publishes a
// markdown dashboard. It runs as a long-lived service with a daily cron
// job and a small HTTP API, or as a one-shot batch with -once.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zipaJopa/agent-results/internal/config"
	"github.com/zipaJopa/agent-results/internal/history"
	"github.com/zipaJopa/agent-results/internal/report"
	"github.com/zipaJopa/agent-results/internal/scheduler"
	"github.com/zipaJopa/agent-results/internal/server"
	"github.com/zipaJopa/agent-results/internal/storage"
	"github.com/zipaJopa/agent-results/internal/tracker"
	"github.com/zipaJopa/agent-results/internal/valuation"
	"github.com/zipaJopa/agent-results/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("bucket", cfg.Storage.Bucket).Msg("Starting results tracker")

	ctx := context.Background()

	store, err := storage.NewS3Store(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object storage")
	}

	calc := valuation.NewCalculator(valuation.DefaultTable(), log)

	trackerCfg := tracker.Config{
		OutputsPrefix:      cfg.OutputsPrefix,
		ArchivePrefix:      cfg.ArchivePrefix,
		MetricsPrefix:      cfg.MetricsPrefix,
		LogZeroValueEvents: cfg.LogZeroValueEvents,
	}

	// The dashboard renderer needs the tracker's metrics key layout for
	// its footer link, so it is attached after construction.
	trk := tracker.New(store, calc, nil, trackerCfg, log)
	trk.SetReporter(report.NewMarkdown(store, cfg.DashboardKey, trk.MetricsKey, log))

	ledger, err := history.Open(filepath.Join(cfg.DataDir, "tracker.db"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run history ledger")
	}
	defer ledger.Close()

	job := tracker.NewJob(trk, ledger, log)

	if *once {
		if err := job.Run(); err != nil {
			log.Fatal().Err(err).Msg("Ingestion run failed")
		}
		return
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.Schedule, job); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Schedule).Msg("Failed to register ingestion job")
	}
	sched.Start()
	defer sched.Stop()

	if cfg.RunOnStart {
		go func() {
			if err := sched.RunNow(job); err != nil {
				log.Error().Err(err).Msg("Startup ingestion run failed")
			}
		}()
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		Log:        log,
		Store:      store,
		Tracker:    trk,
		Ledger:     ledger,
		TriggerRun: job.Run,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
