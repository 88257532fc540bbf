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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"calendar2image/pkg/worker"
)

var (
	workerName    string
	workerTrigger string
)

// workerCmd is the single-shot generation process the service spawns. It
// writes exactly one JSON result document to stdout; all logging goes to
// stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one image generation and exit",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerName, "name", "", "Configuration name to generate")
	workerCmd.Flags().StringVar(&workerTrigger, "trigger", "", "Trigger label for logging")
	_ = workerCmd.MarkFlagRequired("name")
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := setupLogging(os.Stderr)
	if id := os.Getenv(worker.EnvCorrelationID); id != "" {
		logger = logger.With("correlation_id", id)
	}
	logger = logger.With("config", workerName, "trigger", workerTrigger)

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		return fmt.Errorf("worker requires CONFIG_DIR")
	}
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = filepath.Join(configDir, "cache")
	}

	// SIGTERM from the dispatcher cancels the generation; the deferred
	// result write still happens before exit.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pipeline := worker.NewPipeline(configDir, cacheDir, worker.NewBrowserRasterizer(), logger)
	result := pipeline.Run(ctx, workerName)

	if err := worker.WriteResult(os.Stdout, result); err != nil {
		return err
	}
	if !result.OK {
		// Non-zero exit plus a parseable result on stdout.
		return fmt.Errorf("%s: %s", result.ErrorKind, result.ErrorMessage)
	}
	return nil
}
