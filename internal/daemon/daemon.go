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

// Package daemon implements runbookd: the approval-timeout sweeper, the
// catalog watcher, and the Prometheus metrics endpoint. The CLI owns
// interactive runs; the daemon only wakes runs whose gates expired.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/runbook/internal/catalog"
	"github.com/tombee/runbook/internal/config"
	"github.com/tombee/runbook/internal/engine"
	"github.com/tombee/runbook/internal/engine/command"
	"github.com/tombee/runbook/internal/log"
	"github.com/tombee/runbook/internal/metrics"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/internal/store/file"
	"github.com/tombee/runbook/internal/store/memory"
	"github.com/tombee/runbook/internal/store/sqlite"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the main runbookd daemon.
type Daemon struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	backend store.Backend
	engine  *engine.Engine
	catalog *catalog.Catalog
	watcher *catalog.Watcher
	server  *http.Server
	ln      net.Listener
	pidFile string

	// drives tracks timed-out runs being driven in the background so
	// shutdown can wait for them.
	drives sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a new daemon instance.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := log.WithComponent(log.New(log.FromEnv()), "daemon")

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store backend: %w", err)
	}

	eng := engine.New(backend, command.NewShellRunner()).
		WithLogger(logger).
		WithMetrics(metrics.New())

	// The catalog is optional: a host without a sops directory still gets
	// its approval timeouts swept.
	var cat *catalog.Catalog
	if c, catErr := catalog.New(cfg.SopsDir); catErr != nil {
		logger.Warn("sops directory unavailable, catalog disabled",
			slog.String("dir", cfg.SopsDir), slog.Any("error", catErr))
	} else {
		cat = c.WithLogger(logger).WithIndexPath(cfg.IndexPath())
	}

	return &Daemon{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		backend: backend,
		engine:  eng,
		catalog: cat,
	}, nil
}

// openBackend mirrors the CLI's backend selection. The daemon builds its
// own so it does not depend on the command layer.
func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendFile:
		return file.New(cfg.RunsDir())
	case config.BackendSQLite:
		return sqlite.New(sqlite.Config{Path: cfg.SQLitePath(), WAL: true})
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Start starts the daemon and blocks until the context is cancelled or a
// component fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	// Write PID file if configured
	if d.cfg.Daemon.PIDFile != "" {
		if err := d.writePIDFile(); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		d.pidFile = d.cfg.Daemon.PIDFile
	}

	// Build the catalog index up front, then keep it fresh.
	if d.catalog != nil {
		if err := d.catalog.Reload(); err != nil {
			d.logger.Warn("initial catalog load failed", slog.Any("error", err))
		}
		if d.cfg.Daemon.Watch {
			w, err := catalog.NewWatcher(d.catalog)
			if err != nil {
				return fmt.Errorf("failed to create catalog watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start catalog watcher: %w", err)
			}
			d.watcher = w
		}
	}

	// Metrics endpoint. A nil channel never fires in the select below, so
	// a disabled endpoint just drops out of the loop.
	var srvErr chan error
	if addr := d.cfg.Daemon.MetricsAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		d.ln = ln
		d.server = &http.Server{
			Handler:      d.handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		srvErr = make(chan error, 1)
		go func() {
			if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				srvErr <- err
			}
		}()
		d.logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	}

	d.logger.Info("runbookd starting",
		slog.String("version", d.opts.Version),
		slog.Duration("sweep_interval", d.cfg.Daemon.SweepInterval),
		slog.String("sops_dir", d.cfg.SopsDir),
		slog.String("store", d.cfg.Store.Backend))

	ticker := time.NewTicker(d.cfg.Daemon.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-srvErr:
			return fmt.Errorf("metrics server error: %w", err)
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// Shutdown gracefully shuts down the daemon.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Error("catalog watcher shutdown error", slog.Any("error", err))
		}
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("metrics server shutdown error", slog.Any("error", err))
		}
	}

	// Wait for background drives started by the sweeper.
	done := make(chan struct{})
	go func() {
		d.drives.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached with drives still active")
	}

	// Clean up PID file
	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Error("failed to remove PID file",
				slog.Any("error", err), slog.String("path", d.pidFile))
		}
	}

	if err := d.backend.Close(); err != nil {
		d.logger.Error("failed to close backend", slog.Any("error", err))
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	dir := filepath.Dir(d.cfg.Daemon.PIDFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	pid := os.Getpid()
	return os.WriteFile(d.cfg.Daemon.PIDFile, []byte(fmt.Sprintf("%d\n", pid)), 0600)
}
