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

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
	"log/slog"
)

const (
	// defaultDebounce coalesces bursts of filesystem events (editors often
	// write, chmod, and rename in quick succession) into one reload.
	defaultDebounce = 500 * time.Millisecond

	// reloadsPerMinute caps how often a misbehaving writer can force a full
	// rescan of the catalog directory.
	reloadsPerMinute = 12

	// limiterRetry is how long a rate-limited reload waits before trying
	// again, so the last change in a storm still lands.
	limiterRetry = time.Second
)

// Watcher reloads a Catalog when manifests under its directory change.
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	limiter  *rate.Limiter
	debounce time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a watcher for the catalog's directory tree.
func NewWatcher(c *Catalog) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		catalog:  c,
		watcher:  fw,
		limiter:  rate.NewLimiter(rate.Limit(float64(reloadsPerMinute)/60.0), 1),
		debounce: defaultDebounce,
		logger:   c.logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// WithDebounce overrides the debounce window. Zero disables coalescing.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Start begins watching. fsnotify does not recurse, so every existing
// subdirectory is registered up front and directories created later are
// added as their events arrive.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}

	if err := w.addTree(w.catalog.Dir()); err != nil {
		return err
	}

	w.started = true
	go w.eventLoop(ctx)
	w.logger.Info("catalog watcher started", "dir", w.catalog.Dir())
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	close(w.stopCh)
	<-w.doneCh
	w.started = false
	return w.watcher.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	// The timer is created stopped; relevant events re-arm it so a burst
	// collapses into a single reload once the tree goes quiet.
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("catalog watcher stopping", "reason", "context cancelled")
			return
		case <-w.stopCh:
			w.logger.Debug("catalog watcher stopping", "reason", "stop requested")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("catalog change detected", "path", event.Name, "op", event.Op.String())
			if w.debounce == 0 {
				w.tryReload()
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			if !w.tryReload() {
				timer.Reset(limiterRetry)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

// relevant reports whether an event should trigger a reload, registering
// newly created directories as a side effect.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return true
		}
	}
	if !isManifestPath(event.Name) {
		return false
	}
	const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	return event.Op&ops != 0
}

// tryReload reloads the catalog unless the rate limiter rejects it.
// It reports whether the reload ran.
func (w *Watcher) tryReload() bool {
	if !w.limiter.Allow() {
		w.logger.Warn("catalog reload rate limited, deferring",
			"limit_per_minute", reloadsPerMinute)
		return false
	}
	if err := w.catalog.Reload(); err != nil {
		w.logger.Error("catalog reload failed", "error", err)
	}
	return true
}
