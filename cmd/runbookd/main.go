// Copyright 2025 Tom Barlow
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
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/runbook/internal/config"
	"github.com/tombee/runbook/internal/daemon"
	"github.com/tombee/runbook/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	var (
		sweepInterval = flag.Duration("sweep-interval", 0, "How often to sweep approval timeouts (e.g. 30s)")
		metricsAddr   = flag.String("metrics-addr", "", "Prometheus listen address (e.g. :9090)")
		sopsDir       = flag.String("sops-dir", "", "Directory holding SOP manifests")
		storeBackend  = flag.String("store", "", "Storage backend (file, sqlite, memory)")
		pidFile       = flag.String("pid-file", "", "Write the process id to this file")
		watch         = flag.Bool("watch", false, "Watch the sops directory and keep the catalog index fresh")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("runbookd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *sweepInterval > 0 {
		cfg.Daemon.SweepInterval = *sweepInterval
	}
	if *metricsAddr != "" {
		cfg.Daemon.MetricsAddr = *metricsAddr
	}
	if *sopsDir != "" {
		cfg.SopsDir = *sopsDir
	}
	if *storeBackend != "" {
		cfg.Store.Backend = *storeBackend
	}
	if *pidFile != "" {
		cfg.Daemon.PIDFile = *pidFile
	}
	if *watch {
		cfg.Daemon.Watch = true
	}

	// Create daemon instance
	d, err := daemon.New(cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start daemon
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := d.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
