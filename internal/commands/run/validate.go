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

	"github.com/tombee/runbook/internal/commands/shared"
	"github.com/tombee/runbook/pkg/manifest"
)

// ValidateResponse is the JSON envelope for --validate
type ValidateResponse struct {
	shared.JSONResponse
	SOP     string `json:"sop,omitempty"`
	Version string `json:"version,omitempty"`
	Steps   int    `json:"steps,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// validateManifest parses and validates a manifest file without running it.
// Structural problems exit with the invalid-manifest status; a missing file
// is not-found.
func validateManifest(out io.Writer, path string, jsonOut bool) error {
	m, err := manifest.Load(path)
	if err != nil {
		return failJSON(out, jsonOut, "validate "+path, err)
	}

	if jsonOut {
		return shared.EmitJSONTo(out, ValidateResponse{
			JSONResponse: shared.NewJSONResponse("run", true),
			SOP:          m.Name,
			Version:      m.Version,
			Steps:        len(m.Steps),
			Mode:         string(m.ExecutionMode),
		})
	}

	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s valid (%d steps)", m.Name, len(m.Steps))))
	return nil
}
