package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OldStager01/egress-gateway/api"
	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/gateway"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/snapshot"
	"github.com/OldStager01/egress-gateway/pkg/database/queries"
)

const (
	defaultMigrationTimeout = 60 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and its HTTP surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Infof("Starting %s in %s mode (tier %s)", cfg.App.Name, cfg.App.Mode, cfg.Tier.Name)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if autoMigrate {
			if err := migrate(cmd.Context(), cfg, db); err != nil {
				return err
			}
		}
	}

	m := metrics.Get()

	issuer, err := gateway.NewIssuer(cfg.Issuance, m)
	if err != nil {
		return err
	}

	opts := gateway.Options{Issuer: issuer, Metrics: m}
	if db != nil {
		opts.Store, err = snapshot.New(cfg.Snapshot, db.DB)
		if cfg.Events.Persist {
			opts.Recorder = events.NewDBRecorder(db.DB)
			opts.Samples = queries.NewPoolSampleRepository(db.DB)
		}
	} else {
		opts.Store, err = snapshot.New(cfg.Snapshot, nil)
	}
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg, opts)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer gw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 && cfg.Metrics.Port != cfg.API.Port {
		metrics.StartServer(ctx, cfg.Metrics.Port)
	}

	server := api.NewServer(cfg, gw, api.ServerOptions{DB: db, Metrics: m})

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdownChan)

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("API server listening on port %d", cfg.API.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdownChan:
		logger.Infof("Received signal %v, shutting down", sig)
	}

	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
