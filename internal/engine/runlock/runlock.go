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

// Package runlock serializes run mutations. Every load-mutate-save sequence
// for a run must happen under that run's lock, so concurrent approvals,
// timeouts and scheduling never interleave on the same record.
package runlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Registry hands out one mutex per run ID. Entries are dropped once the
// last holder releases, so the map does not grow with run history.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// Lock blocks until the run's mutex is held and returns the release func.
func (r *Registry) Lock(runID string) func() {
	r.mu.Lock()
	e, ok := r.locks[runID]
	if !ok {
		e = &entry{}
		r.locks[runID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			r.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(r.locks, runID)
			}
			r.mu.Unlock()
		})
	}
}
