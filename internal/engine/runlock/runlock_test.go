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

package runlock

import (
	"sync"
	"testing"
)

func TestRegistry_SerializesSameRun(t *testing.T) {
	r := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock("run-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
}

func TestRegistry_IndependentRuns(t *testing.T) {
	r := New()

	unlockA := r.Lock("run-a")
	defer unlockA()

	// A different run must not block behind run-a.
	done := make(chan struct{})
	go func() {
		unlockB := r.Lock("run-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	default:
		// Give the goroutine a chance to run.
		<-done
	}
}

func TestRegistry_DropsReleasedEntries(t *testing.T) {
	r := New()

	unlock := r.Lock("run-1")
	unlock()
	unlock() // double release is a no-op

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.locks) != 0 {
		t.Errorf("expected empty registry after release, got %d entries", len(r.locks))
	}
}
