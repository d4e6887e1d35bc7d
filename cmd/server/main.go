package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/api"
	"repo-sentinel/internal/config"
	"repo-sentinel/internal/events"
	"repo-sentinel/internal/fetch"
	"repo-sentinel/internal/monitor"
	"repo-sentinel/internal/oracle"
	"repo-sentinel/internal/pipeline"
	"repo-sentinel/internal/runtime"
	"repo-sentinel/internal/sandbox"
	"repo-sentinel/internal/store"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Sandbox backend (auto-detects containerd vs Docker)
	var sb sandbox.Manager
	sb, err = sandbox.NewManager(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("no sandbox backend available (analyses will fail)")
		// Continue startup so health/metrics endpoints work for debugging
	}

	// Persistence (optional — in-memory store for development)
	var st store.Store
	var saver *store.AsyncSaver
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("database unavailable")
		}
		defer pg.Close()
		st = pg

		saver = store.NewAsyncSaver(pg, 1024)
		saver.Start()
		defer saver.Flush(10 * time.Second)
	} else {
		log.Warn().Msg("no database DSN configured, analyses are not persisted across restarts")
		st = store.NewMemoryStore()
	}

	// Oracle client (OpenAI-compatible)
	oracleClient := oracle.NewOpenAIClient(oracle.OpenAIConfig{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey(),
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Oracle.Timeout,
		Retries: cfg.Oracle.Retries,
	})
	if cfg.Oracle.APIKey() == "" {
		log.Warn().Str("env", cfg.Oracle.APIKeyEnv).Msg("oracle API key not set, assessments will use local fallbacks")
	}

	ctrl := pipeline.NewController(pipeline.Deps{
		Sandbox:  sb,
		Runtimes: runtime.NewRegistry(),
		Fetcher:  fetch.NewFetcher(cfg.Fetch.Depth, cfg.Fetch.Timeout),
		Oracle:   oracle.NewAdapter(oracleClient),
		Bus:      events.NewBus(),
		Store:    st,
		Saver:    saver,
		Metrics:  metrics,
	}, pipeline.Options{
		WorkRoot:       cfg.Analysis.WorkRoot,
		CommitLimit:    cfg.Analysis.CommitLimit,
		DiffLimit:      cfg.Analysis.DiffLimitBytes,
		OracleParallel: cfg.Analysis.OracleParallel,
		InstallTimeout: cfg.Analysis.InstallTimeout,
		BuildTimeout:   cfg.Analysis.BuildTimeout,
	})

	server := api.NewServer(cfg, ctrl, sb, st, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// Let in-flight analyses finish before releasing their sandboxes.
		if err := ctrl.Drain(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("drain incomplete, abandoning in-flight analyses")
		}

		if sb != nil {
			if err := sb.Close(); err != nil {
				log.Error().Err(err).Msg("sandbox backend close error")
			}
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", cfg.Database.DSN != "").
		Bool("backend_available", sb != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
