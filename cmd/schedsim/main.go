// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// schedsim floods a frame-budgeted scheduler with a synthetic task stream
// and reports how each priority class fared.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagConfig   string
	flagDuration time.Duration
	flagFPS      int
	flagSeed     int64
	flagLogLevel string
	flagLogFile  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedsim",
		Short: "schedsim drives a frame-budgeted scheduler with a synthetic workload",
		Long: "schedsim submits a rate-limited stream of tasks across all five priorities,\n" +
			"mixing in delayed submissions, cancellations, and injected panics, then\n" +
			"reports queue-wait latency and scheduler counters.",
		RunE:         runSim,
		SilenceUsage: true,
	}

	root.Flags().StringVar(&flagConfig, "config", "", "YAML config path (defaults apply when empty or missing)")
	root.Flags().DurationVar(&flagDuration, "duration", 0, "Run length (overrides config)")
	root.Flags().IntVar(&flagFPS, "fps", 0, "Frame rate driving the slice length (overrides config)")
	root.Flags().Int64Var(&flagSeed, "seed", 0, "RNG seed (overrides config; 0 seeds from the clock)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	root.Flags().StringVar(&flagLogFile, "log-file", "", "Rotating log file path (overrides config)")

	return root
}

func runSim(cmd *cobra.Command, _ []string) error {
	cfg, err := Load(flagConfig)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("duration") {
		cfg.DurationMS = int(flagDuration / time.Millisecond)
	}
	if cmd.Flags().Changed("fps") {
		cfg.FPS = flagFPS
		cfg.SliceMS = 0
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = flagSeed
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = flagLogFile
	}
	cfg.clamp()

	log, closeLog := buildLogger(cfg.Log)
	defer closeLog()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info("Starting simulation",
		zap.Int("duration_ms", cfg.DurationMS),
		zap.Int("fps", cfg.FPS),
		zap.Int("slice_ms", cfg.SliceMS),
		zap.Float64("rate", cfg.Workload.Rate),
		zap.Int64("seed", seed),
	)

	sim, err := newSimulation(cfg, log, seed)
	if err != nil {
		return err
	}
	return sim.run()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
