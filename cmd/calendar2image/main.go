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

// Package main is the calendar2image CLI: the long-running service ("run")
// and the single-shot generation worker ("worker") the service spawns for
// each image.
//
// Configuration priority is CLI flags, then environment variables, then
// defaults. The VERBOSE environment variable selects the log level:
// 0 = WARNING, 1 = INFO (default), 2 = DEBUG.
package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/KimMachineGun/automemlimit"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "calendar2image",
	Short: "Calendar image generation service",
	Long: `calendar2image renders calendar configurations to images.

The service watches a directory of JSON configurations, pre-generates
images on per-configuration cron schedules, and serves them over HTTP
with fingerprint and history endpoints. Each generation runs in an
isolated worker process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
}

// setupLogging configures the default slog logger from VERBOSE and returns
// it. Worker processes log to stderr so stdout stays reserved for the
// result document.
func setupLogging(out *os.File) *slog.Logger {
	logLevel := slog.LevelInfo
	switch os.Getenv("VERBOSE") {
	case "0":
		logLevel = slog.LevelWarn
	case "2":
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
