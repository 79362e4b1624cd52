package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/geyserpg/geyserpg/internal/common"
	"github.com/geyserpg/geyserpg/internal/config"
	"github.com/geyserpg/geyserpg/internal/postgres"
	"github.com/geyserpg/geyserpg/internal/postgres/migrations"
	"github.com/geyserpg/geyserpg/internal/replay"
	"github.com/geyserpg/geyserpg/internal/sink"
)

var replayInput string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded notification stream into the store",
	Long: `Replay reads newline-delimited JSON notifications from a file (or stdin
with -i -) and delivers them to the sink in order, then flushes and reports
the final slot watermark. Useful for load testing and verifying store
contents against a known stream.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "-", "replay stream path, - for stdin")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := componentLogger(common.ComponentReplay, cfg)
	defer func() {
		_ = log.Close()
	}()

	var in io.Reader = os.Stdin
	if replayInput != "-" {
		f, err := os.Open(replayInput)
		if err != nil {
			return fmt.Errorf("failed to open replay stream: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()

	if err := migrations.RunMigrations(componentLogger(common.ComponentMigrations, cfg), cfg.ConnectionStr); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s, err := sink.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start sink: %w", err)
	}

	stats, runErr := replay.Run(ctx, in, s, log)

	if err := s.Close(ctx); err != nil {
		return fmt.Errorf("failed to close sink: %w", err)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Printf("replayed %d notifications (%d accounts, %d transactions, %d slot statuses, %d blocks), watermark %d\n",
		stats.Lines, stats.Accounts, stats.Transactions, stats.SlotStatuses, stats.Blocks, s.Watermark())

	reader, err := postgres.NewReader(cfg.ConnectionStr)
	if err != nil {
		return fmt.Errorf("failed to open store reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	accounts, transactions, slots, blocks, err := reader.Counts()
	if err != nil {
		return fmt.Errorf("failed to count store rows: %w", err)
	}

	fmt.Printf("store now holds %d account, %d transaction, %d slot and %d block rows\n",
		accounts, transactions, slots, blocks)

	return nil
}
