package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/simulator"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		cfg      simulator.Config
		logLevel string
		pattern  simulator.FaultsRequest
	)

	cmd := &cobra.Command{
		Use:          "issuance-simulator",
		Short:        "Local stand-in for the device registration service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Setup(logLevel, "development")

			p, err := simulator.ParsePattern(pattern)
			if err != nil {
				return err
			}

			sim := simulator.New(cfg)
			sim.Faults().Set(p, 0)
			if err := sim.Start(); err != nil {
				return fmt.Errorf("failed to start simulator: %w", err)
			}
			logger.Infof("Fault pattern %s, %.1f registrations/s", p.Name(), cfg.RateLimit)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan

			logger.Info("Shutting down simulator")
			return sim.Stop()
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Port, "port", 9000, "listen port")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	f.Float64Var(&cfg.RateLimit, "rate-limit", 2, "registrations per second, 0 for unlimited")
	f.IntVar(&cfg.Burst, "burst", 4, "registration burst")
	f.DurationVar(&cfg.Latency, "latency", 50*time.Millisecond, "base response latency")
	f.StringVar(&pattern.Pattern, "faults", "none", "fault pattern: none, random, outage")
	f.Float64Var(&pattern.MintFailureRate, "mint-failure-rate", 0, "random pattern: registration failure rate")
	f.Float64Var(&pattern.ProbeFailureRate, "probe-failure-rate", 0, "random pattern: probe failure rate")
	f.StringVar(&pattern.OutageEvery, "outage-every", "", "outage pattern: period")
	f.StringVar(&pattern.OutageFor, "outage-for", "", "outage pattern: length of each outage")

	return cmd
}
