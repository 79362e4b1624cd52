package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geyserpg/geyserpg/internal/common"
	"github.com/geyserpg/geyserpg/internal/config"
	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/metrics"
	"github.com/geyserpg/geyserpg/internal/postgres/migrations"
	"github.com/geyserpg/geyserpg/internal/sink"
)

const version = "1.0.0"

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geyserpg",
	Short: "geyserpg - PostgreSQL change-data-capture sink for Solana validators",
	Long: `geyserpg persists account writes, transaction results, slot status
transitions and block metadata streamed from a Solana validator into
PostgreSQL through a selector-filtered, batched, multi-worker pipeline.

Run without a subcommand it applies pending schema migrations, starts the
sink and waits for notifications until interrupted.`,
	Version: version,
	RunE:    runSink,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}

		fmt.Printf("configuration OK: %d threads, batch size %d, flush interval %s\n",
			cfg.Threads, cfg.BatchSize, cfg.FlushInterval.String())

		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log := componentLogger(common.ComponentMigrations, cfg)

		return migrations.RunMigrations(log, cfg.ConnectionStr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(replayCmd)
}

func componentLogger(component string, cfg *config.Config) *logger.Logger {
	if cfg.Logging == nil {
		return logger.NewComponentLoggerFromConfig(component, nil)
	}

	return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
}

func runSink(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	log := componentLogger(common.ComponentSink, cfg)
	defer func() {
		_ = log.Close()
	}()

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("running database migrations...")
	if err := migrations.RunMigrations(componentLogger(common.ComponentMigrations, cfg), cfg.ConnectionStr); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s, err := sink.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start sink: %w", err)
	}

	<-ctx.Done()

	if err := s.Close(context.Background()); err != nil {
		return fmt.Errorf("failed to close sink: %w", err)
	}

	log.Infof("shut down at slot watermark %d", s.Watermark())

	return nil
}
