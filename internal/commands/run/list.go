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

package run

import (
	"fmt"
	"io"

	"github.com/tombee/runbook/internal/catalog"
	"github.com/tombee/runbook/internal/commands/shared"
)

// ListResponse is the JSON envelope for catalog listings
type ListResponse struct {
	shared.JSONResponse
	Dir  string          `json:"dir"`
	SOPs []catalog.Entry `json:"sops"`
}

// listSOPs discovers and prints the SOPs under the catalog directory,
// highest priority first.
func listSOPs(out io.Writer, sopsDir string, jsonOut bool) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return failJSON(out, jsonOut, "load config", err)
	}

	dir := sopsDir
	if dir == "" {
		dir = cfg.SopsDir
	}

	cat, err := catalog.New(dir)
	if err != nil {
		return failJSON(out, jsonOut, "open catalog", err)
	}
	if dir == cfg.SopsDir {
		// Listing the configured catalog refreshes the daemon's index too.
		cat = cat.WithIndexPath(cfg.IndexPath())
	}
	if err := cat.Reload(); err != nil {
		return failJSON(out, jsonOut, "scan "+dir, err)
	}

	entries := cat.List()

	if jsonOut {
		return shared.EmitJSONTo(out, ListResponse{
			JSONResponse: shared.NewJSONResponse("run", true),
			Dir:          cat.Dir(),
			SOPs:         entries,
		})
	}

	if len(entries) == 0 {
		fmt.Fprintf(out, "no SOPs found in %s\n", cat.Dir())
		return nil
	}

	fmt.Fprintf(out, "%-24s %-10s %-9s %-6s %-15s %s\n",
		"NAME", "VERSION", "PRIORITY", "STEPS", "MODE", "DESCRIPTION")
	for _, e := range entries {
		version := e.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(out, "%-24s %-10s %-9d %-6d %-15s %s\n",
			e.Name, version, e.Priority, e.Steps, e.ExecutionMode, e.Description)
	}
	return nil
}
