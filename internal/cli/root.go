// Package cli holds the gateway's cobra commands.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/database"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Egress gateway over a self-healing pool of proxy identities",
	Long: `gateway admits outbound requests under a tier's rate and concurrency
limits and routes each one through a healthy proxy identity from a pool
that it monitors, replaces and resizes on its own.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command. Without a subcommand it serves.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default is ./config.yaml or ./configs/config.yaml)")
}

// loadConfig reads, validates and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	return cfg, nil
}

// openDatabase connects when persistence is enabled and returns nil otherwise.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}
	db, err := database.New(cfg.Database.ToDBConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Database connection established")
	return db, nil
}

func migrate(ctx context.Context, cfg *config.Config, db *database.DB) error {
	timeout := cfg.Database.MigrationTimeout
	if timeout <= 0 {
		timeout = defaultMigrationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	applied, err := database.NewMigrator(db).Run(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Infof("Migrations completed (%d applied)", len(applied))
	return nil
}
