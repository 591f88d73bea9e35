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
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/runbook/pkg/errors"
)

// ResolveManifestPath resolves a manifest argument to an actual file path.
// Resolution order:
// 1. If arg exists as a file, return it
// 2. If arg is a directory containing sop.yaml, return that
// 3. Try arg.yaml
// 4. Try arg.yml
//
// Callers that also accept catalog names should check errors.IsNotFound
// and fall back to a catalog lookup.
func ResolveManifestPath(arg string) (string, error) {
	info, err := os.Stat(arg)
	if err == nil {
		if info.IsDir() {
			sopPath := filepath.Join(arg, "sop.yaml")
			if _, err := os.Stat(sopPath); err == nil {
				return sopPath, nil
			}
			return "", fmt.Errorf("directory %q exists but does not contain sop.yaml", arg)
		}
		return arg, nil
	}

	yamlPath := arg + ".yaml"
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}

	ymlPath := arg + ".yml"
	if _, err := os.Stat(ymlPath); err == nil {
		return ymlPath, nil
	}

	return "", &errors.NotFoundError{Resource: "manifest", ID: arg}
}
