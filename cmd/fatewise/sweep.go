package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatewise/fatewise/adapters/clock"
	"github.com/fatewise/fatewise/adapters/idgen"
	"github.com/fatewise/fatewise/adapters/memory"
	"github.com/fatewise/fatewise/adapters/sqlite"
	"github.com/fatewise/fatewise/app"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a one-shot expiry sweep",
	Long: `Deactivate membership records whose expiry has passed.

The sweep is idempotent and safe to run while the server is up: records
touched by a concurrent writer are skipped and picked up on the next
run. Intended for cron.

Examples:
  fatewise sweep
  fatewise sweep --config /etc/fatewise/config.yaml`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	transitions := app.NewTransitioner(
		sqlite.NewMembershipStore(db),
		sqlite.NewBillingEventStore(db),
		memory.StaticCatalog(catalog),
		clock.Real{},
		idgen.UUID{},
		cfg.Engine.ConsumeMaxRetries,
		cfg.Engine.SweepBatchSize,
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	swept, err := transitions.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("Swept %d expired membership(s)\n", swept)
	return nil
}
