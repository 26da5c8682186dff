package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/biobanking/blaze-sync/internal/blaze"
	"github.com/biobanking/blaze-sync/internal/config"
	"github.com/biobanking/blaze-sync/internal/extract"
	"github.com/biobanking/blaze-sync/internal/history"
	"github.com/biobanking/blaze-sync/internal/mapping"
	"github.com/biobanking/blaze-sync/internal/metrics"
	"github.com/biobanking/blaze-sync/internal/scheduler"
	"github.com/biobanking/blaze-sync/internal/server"
	syncpkg "github.com/biobanking/blaze-sync/internal/sync"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blaze-sync",
		Short: "Biobank to Blaze FHIR store synchronization service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(deleteCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			conditionsOnly, _ := cmd.Flags().GetBool("conditions")
			return runOnce(conditionsOnly)
		},
	}
	cmd.Flags().Bool("conditions", false, "Sync standalone condition records instead of a full run")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete every managed resource from the FHIR store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := blaze.New(cfg.BlazeURL, logger)
			if err := client.DeleteEverything(context.Background()); err != nil {
				return err
			}
			logger.Info().Msg("all managed resources deleted")
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// buildEngine loads the deployment configuration and wires the sync engine
// and its gateway.
func buildEngine(cfg *config.Config, logger zerolog.Logger) (*syncpkg.Engine, *blaze.Client, error) {
	pm, err := mapping.LoadParsingMap(cfg.ParsingMapFile)
	if err != nil {
		return nil, nil, err
	}
	if err := pm.Validate(); err != nil {
		return nil, nil, err
	}

	lookups := mapping.Lookups{
		MaterialType:       map[string]string{},
		StorageTemperature: map[string]string{},
		Collections:        map[string]string{},
	}
	if cfg.LookupsFile != "" {
		lookups, err = mapping.LoadLookups(cfg.LookupsFile)
		if err != nil {
			return nil, nil, err
		}
	}

	biobank, collections, err := mapping.LoadDeployment(cfg.BiobankFile)
	if err != nil {
		return nil, nil, err
	}

	extractor, err := extract.New(cfg.InputFormat, cfg.InputDir, pm, lookups, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := extractor.ValidateMapping(); err != nil {
		return nil, nil, err
	}

	client := blaze.New(cfg.BlazeURL, logger)
	engine := syncpkg.NewEngine(client, extractor, biobank, collections, logger)
	return engine, client, nil
}

func runOnce(conditionsOnly bool) error {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	engine, client, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := client.WaitUntilAvailable(ctx, cfg.BlazeWaitAttempts); err != nil {
		return err
	}

	var summary syncpkg.Summary
	if conditionsOnly {
		summary = engine.RunConditions(ctx)
	} else {
		summary = engine.Run(ctx)
	}
	if !summary.Success {
		if summary.ErrorMessage != "" {
			return fmt.Errorf("sync run failed: %s", summary.ErrorMessage)
		}
		return fmt.Errorf("sync run failed: %d entities failed", summary.TotalFailed())
	}
	logger.Info().Int("processed", summary.TotalProcessed()).Msg("sync run succeeded")
	return nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	engine, client, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build sync engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.WaitUntilAvailable(ctx, cfg.BlazeWaitAttempts); err != nil {
		logger.Fatal().Err(err).Msg("blaze never became available")
	}

	// Run history: PostgreSQL when configured, otherwise in memory.
	var store history.Store = history.NewMemStore(50)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		pg := history.NewPGStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare run history schema")
		}
		store = pg
		logger.Info().Msg("run history persisted to database")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	runner := server.NewRunner(engine, store, m, logger)
	srv := server.New(runner, store, client, cfg.APITokenSecret, logger)

	if cfg.SyncInterval > 0 {
		sched := scheduler.New(runner, history.KindFull, cfg.SyncInterval, logger)
		go sched.Run(ctx)
		logger.Info().Dur("interval", cfg.SyncInterval).Msg("periodic sync enabled")
	}

	if cfg.StaleInputAge > 0 {
		sender := &scheduler.SMTPSender{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			From: cfg.SMTPFrom,
			To:   strings.Split(cfg.SMTPTo, ","),
		}
		watchdog := scheduler.NewWatchdog(cfg.InputDir, cfg.StaleInputAge, sender, logger)
		go watchdog.Run(ctx, time.Hour)
		logger.Info().Dur("max_age", cfg.StaleInputAge).Msg("stale input watchdog enabled")
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
