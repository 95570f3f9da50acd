// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors the simulator's YAML config file.
type Config struct {
	DurationMS int   `yaml:"duration_ms"` // how long to generate work
	FPS        int   `yaml:"fps"`         // frame rate driving the slice length; 0 defers to slice_ms
	SliceMS    int   `yaml:"slice_ms"`    // direct slice length, used when fps is 0; 0 keeps the default
	Seed       int64 `yaml:"seed"`        // rng seed; 0 seeds from the wall clock

	Log      LogConfig      `yaml:"log"`
	Workload WorkloadConfig `yaml:"workload"`
}

// LogConfig controls the console level and the optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty disables the file sink
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WorkloadConfig shapes the synthetic task stream.
type WorkloadConfig struct {
	Rate        float64 `yaml:"rate"`  // submissions per second
	Burst       int     `yaml:"burst"` // limiter burst
	ChunksMin   int     `yaml:"chunks_min"`
	ChunksMax   int     `yaml:"chunks_max"`
	ChunkUS     int     `yaml:"chunk_us"`     // busy time per chunk, microseconds
	DelayRatio  float64 `yaml:"delay_ratio"`  // fraction of tasks submitted with a delay
	DelayMaxMS  int     `yaml:"delay_max_ms"` // upper bound on that delay
	CancelRatio float64 `yaml:"cancel_ratio"` // fraction of tasks cancelled shortly after submission
	PanicEvery  int     `yaml:"panic_every"`  // every Nth task panics; 0 disables

	Weights WeightConfig `yaml:"weights"`
}

// WeightConfig sets the relative share of each priority in the task mix.
type WeightConfig struct {
	Immediate    int `yaml:"immediate"`
	UserBlocking int `yaml:"user_blocking"`
	Normal       int `yaml:"normal"`
	Low          int `yaml:"low"`
	Idle         int `yaml:"idle"`
}

func defaultConfig() Config {
	return Config{
		DurationMS: 3000,
		FPS:        60,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Workload: WorkloadConfig{
			Rate:        500,
			Burst:       32,
			ChunksMin:   1,
			ChunksMax:   6,
			ChunkUS:     200,
			DelayRatio:  0.2,
			DelayMaxMS:  100,
			CancelRatio: 0.05,
			PanicEvery:  250,
			Weights: WeightConfig{
				Immediate:    1,
				UserBlocking: 3,
				Normal:       6,
				Low:          3,
				Idle:         2,
			},
		},
	}
}

// Load reads YAML from path and overrides the defaults; an empty or missing
// path yields defaults only. A file that exists but does not parse is an
// error rather than a silent half-applied config.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp pulls out-of-range values back to something runnable.
func (c *Config) clamp() {
	if c.DurationMS <= 0 {
		c.DurationMS = 3000
	}
	if c.FPS < 0 {
		c.FPS = 0
	}
	if c.FPS > 125 {
		c.FPS = 125
	}
	if c.SliceMS < 0 {
		c.SliceMS = 0
	}

	w := &c.Workload
	if w.Rate <= 0 {
		w.Rate = 500
	}
	if w.Burst <= 0 {
		w.Burst = 1
	}
	if w.ChunksMin <= 0 {
		w.ChunksMin = 1
	}
	if w.ChunksMax < w.ChunksMin {
		w.ChunksMax = w.ChunksMin
	}
	if w.ChunkUS <= 0 {
		w.ChunkUS = 200
	}
	w.DelayRatio = clampRatio(w.DelayRatio)
	w.CancelRatio = clampRatio(w.CancelRatio)
	if w.DelayMaxMS < 0 {
		w.DelayMaxMS = 0
	}
	if w.PanicEvery < 0 {
		w.PanicEvery = 0
	}

	ws := &w.Weights
	ws.Immediate = max(ws.Immediate, 0)
	ws.UserBlocking = max(ws.UserBlocking, 0)
	ws.Normal = max(ws.Normal, 0)
	ws.Low = max(ws.Low, 0)
	ws.Idle = max(ws.Idle, 0)
	if ws.Immediate+ws.UserBlocking+ws.Normal+ws.Low+ws.Idle == 0 {
		ws.Normal = 1
	}
}

func clampRatio(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
