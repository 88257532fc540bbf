// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"calendar2image/pkg/service"
)

const (
	// DefaultPort is the front-door HTTP port.
	DefaultPort = "3000"

	// DefaultMetricsPort serves Prometheus metrics.
	DefaultMetricsPort = "9090"

	// DefaultConfigDir applies when neither --config-dir nor CONFIG_DIR
	// names a directory. Startup still fails when it does not exist.
	DefaultConfigDir = "/config/calendar2image"
)

var (
	runConfigDir   string
	runCacheDir    string
	runPort        string
	runMetricsPort string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the calendar2image service",
	Long: `Run the calendar2image service.

The service loads calendar configurations from the config directory,
watches it for changes, pre-generates images on their cron schedules,
and serves the API on the configured port.

Example usage:
  # Run with defaults
  calendar2image run --config-dir /data/config

  # Use the CONFIG_DIR environment variable instead
  CONFIG_DIR=/data/config calendar2image run`,
	RunE: runService,
}

func init() {
	runCmd.Flags().StringVar(&runConfigDir, "config-dir", "",
		"Directory holding configuration JSON files (env: CONFIG_DIR, default: "+DefaultConfigDir+")")
	runCmd.Flags().StringVar(&runCacheDir, "cache-dir", "",
		"Directory for cached artifacts, history, and timelines (env: CACHE_DIR, default: <config-dir>/cache)")
	runCmd.Flags().StringVar(&runPort, "port", "",
		"Front-door HTTP port (env: PORT, default: "+DefaultPort+")")
	runCmd.Flags().StringVar(&runMetricsPort, "metrics-port", "",
		"Prometheus metrics port (env: METRICS_PORT, default: "+DefaultMetricsPort+")")
}

// resolveConfigDir applies the flag > env > default priority.
func resolveConfigDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return envOr("CONFIG_DIR", DefaultConfigDir)
}

func runService(cmd *cobra.Command, args []string) error {
	runConfigDir = resolveConfigDir(runConfigDir)
	if _, err := os.Stat(runConfigDir); err != nil {
		return fmt.Errorf("configuration directory %q is not usable: %w", runConfigDir, err)
	}

	if runCacheDir == "" {
		runCacheDir = os.Getenv("CACHE_DIR")
	}
	if runCacheDir == "" {
		runCacheDir = filepath.Join(runConfigDir, "cache")
	}

	if runPort == "" {
		runPort = envOr("PORT", DefaultPort)
	}
	if runMetricsPort == "" {
		runMetricsPort = envOr("METRICS_PORT", DefaultMetricsPort)
	}

	// Port 0 disables the metrics listener entirely.
	metricsAddr := ""
	if runMetricsPort != "0" {
		metricsAddr = ":" + runMetricsPort
	}

	logger := setupLogging(os.Stdout)

	gomaxprocs := runtime.GOMAXPROCS(0)
	gomemlimit := "unlimited"
	if limit := debug.SetMemoryLimit(-1); limit != math.MaxInt64 {
		gomemlimit = fmt.Sprintf("%d bytes (%.2f MiB)", limit, float64(limit)/(1024*1024))
	}

	logger.Info("calendar2image starting",
		"config_dir", runConfigDir,
		"cache_dir", runCacheDir,
		"port", runPort,
		"metrics_port", runMetricsPort,
		"gomaxprocs", gomaxprocs,
		"gomemlimit", gomemlimit)

	binary, err := os.Executable()
	if err != nil {
		binary = os.Args[0]
	}

	svc, err := service.New(service.Options{
		ConfigDir:    runConfigDir,
		CacheDir:     runCacheDir,
		Addr:         ":" + runPort,
		MetricsAddr:  metricsAddr,
		WorkerBinary: binary,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("Service shutdown complete")
	return nil
}
