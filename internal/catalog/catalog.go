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

// Package catalog discovers SOP manifests under a directory tree and keeps
// a name-to-path index of them.
//
// Discovery is forgiving: a manifest that fails to parse is logged and
// skipped so one broken file cannot take the whole catalog down. Lookup is
// strict: asking for a name that did not survive discovery is an error.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"log/slog"

	"github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/manifest"
)

// IndexFile is the name of the catalog index written in the data dir.
const IndexFile = "index.json"

// Entry describes one discovered SOP.
type Entry struct {
	// Name is the SOP identifier from the manifest
	Name string `json:"name"`

	// Path is the absolute path of the manifest file
	Path string `json:"path"`

	// Priority orders SOPs in listings; higher first
	Priority int `json:"priority,omitempty"`

	// Description from the manifest
	Description string `json:"description,omitempty"`

	// Version from the manifest
	Version string `json:"version,omitempty"`

	// ExecutionMode the manifest declares
	ExecutionMode manifest.ExecutionMode `json:"executionMode"`

	// Steps is the number of steps in the procedure
	Steps int `json:"steps"`

	manifest *manifest.Manifest
}

// Catalog holds the discovered SOPs of one directory tree.
type Catalog struct {
	dir       string
	indexPath string
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates a catalog rooted at dir. Call Reload to populate it.
func New(dir string) (*Catalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "sops directory", ID: dir}
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, &errors.ConfigError{
			Key:    "sops_dir",
			Reason: fmt.Sprintf("%s is not a directory", dir),
		}
	}
	return &Catalog{
		dir:     abs,
		logger:  slog.Default(),
		entries: make(map[string]*Entry),
	}, nil
}

// WithLogger sets the logger.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithIndexPath enables writing the name-to-path index file on every
// reload. The index lives in the data dir, never among the SOPs, so a
// reload can not retrigger the watcher.
func (c *Catalog) WithIndexPath(path string) *Catalog {
	c.indexPath = path
	return c
}

// Dir returns the catalog's root directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Reload walks the directory tree, parses every manifest it finds, and
// rewrites the index file. Manifests that fail to parse are skipped with a
// warning. On duplicate SOP names the lexically first path wins.
func (c *Catalog) Reload() error {
	pattern := filepath.Join(c.dir, "**", "*.{yaml,yml,json}")
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("failed to glob %s: %w", pattern, err)
	}
	sort.Strings(paths)

	entries := make(map[string]*Entry, len(paths))
	for _, path := range paths {
		m, err := manifest.Load(path)
		if err != nil {
			c.logger.Warn("skipping unparseable manifest", "path", path, "error", err)
			continue
		}
		if prev, ok := entries[m.Name]; ok {
			c.logger.Warn("duplicate sop name, keeping first",
				"name", m.Name, "kept", prev.Path, "skipped", path)
			continue
		}
		entries[m.Name] = &Entry{
			Name:          m.Name,
			Path:          path,
			Priority:      m.Priority,
			Description:   m.Description,
			Version:       m.Version,
			ExecutionMode: m.ExecutionMode,
			Steps:         len(m.Steps),
			manifest:      m,
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	if c.indexPath != "" {
		if err := c.writeIndex(entries); err != nil {
			c.logger.Warn("failed to write catalog index", "error", err)
		}
	}
	c.logger.Info("catalog reloaded", "dir", c.dir, "sops", len(entries))
	return nil
}

// Get returns the manifest for a SOP by name.
func (c *Catalog) Get(name string) (*manifest.Manifest, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, &errors.NotFoundError{Resource: "sop", ID: name}
	}
	return entry.manifest, nil
}

// Entry returns the catalog entry for a SOP by name.
func (c *Catalog) Entry(name string) (Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, &errors.NotFoundError{Resource: "sop", ID: name}
	}
	return *entry, nil
}

// List returns every discovered SOP, highest priority first, ties broken
// by name.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, *entry)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of discovered SOPs.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IndexEntry is one SOP as recorded in the index file.
type IndexEntry struct {
	Path          string                 `json:"path"`
	Version       string                 `json:"version,omitempty"`
	Priority      int                    `json:"priority,omitempty"`
	Steps         int                    `json:"steps"`
	ExecutionMode manifest.ExecutionMode `json:"executionMode"`
}

// indexRecord is the on-disk shape of the catalog index.
type indexRecord struct {
	UpdatedAt time.Time             `json:"updatedAt"`
	SopsDir   string                `json:"sopsDir"`
	SOPs      map[string]IndexEntry `json:"sops"`
}

func (c *Catalog) writeIndex(entries map[string]*Entry) error {
	record := indexRecord{
		UpdatedAt: time.Now().UTC(),
		SopsDir:   c.dir,
		SOPs:      make(map[string]IndexEntry, len(entries)),
	}
	for name, entry := range entries {
		record.SOPs[name] = IndexEntry{
			Path:          entry.Path,
			Version:       entry.Version,
			Priority:      entry.Priority,
			Steps:         entry.Steps,
			ExecutionMode: entry.ExecutionMode,
		}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.indexPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, IndexFile+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.indexPath); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// ReadIndex loads a catalog index file without parsing any manifest.
// External tools use this to resolve names cheaply.
func ReadIndex(path string) (map[string]IndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "catalog index", ID: path}
		}
		return nil, err
	}
	var record indexRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt catalog index %s: %w", path, err)
	}
	return record.SOPs, nil
}

// isManifestPath reports whether a path looks like a SOP manifest.
func isManifestPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
