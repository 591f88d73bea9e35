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

package shared

import (
	"github.com/tombee/runbook/internal/config"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/internal/store/file"
	"github.com/tombee/runbook/internal/store/memory"
	"github.com/tombee/runbook/internal/store/sqlite"
	"github.com/tombee/runbook/pkg/errors"
)

// LoadConfig loads configuration honoring the global --config flag.
func LoadConfig() (*config.Config, error) {
	if path := GetConfigPath(); path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// OpenBackend opens the store backend the configuration selects. Callers
// own the returned backend and must Close it.
func OpenBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendFile:
		return file.New(cfg.RunsDir())
	case config.BackendSQLite:
		return sqlite.New(sqlite.Config{Path: cfg.SQLitePath(), WAL: true})
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, &errors.ConfigError{
			Key:    "store",
			Reason: "unknown backend " + cfg.Store.Backend,
		}
	}
}
