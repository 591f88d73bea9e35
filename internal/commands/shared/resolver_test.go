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
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/runbook/pkg/errors"
)

func TestResolveManifestPath(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	// A direct manifest file
	os.WriteFile("direct.yaml", []byte("name: test"), 0644)

	// A manifest reachable by name without extension
	os.WriteFile("restart.yaml", []byte("name: restart"), 0644)

	// A manifest with the .yml spelling
	os.WriteFile("deploy.yml", []byte("name: deploy"), 0644)

	// A directory with sop.yaml
	os.Mkdir("mysop", 0755)
	os.WriteFile(filepath.Join("mysop", "sop.yaml"), []byte("name: mysop"), 0644)

	// An absolute path manifest
	absFile := filepath.Join(tmpDir, "absolute.yaml")
	os.WriteFile(absFile, []byte("name: absolute"), 0644)

	tests := []struct {
		name        string
		arg         string
		expected    string
		shouldError bool
	}{
		{
			name:     "direct file path",
			arg:      "direct.yaml",
			expected: "direct.yaml",
		},
		{
			name:     "name without extension resolves to .yaml",
			arg:      "restart",
			expected: "restart.yaml",
		},
		{
			name:     "name without extension falls back to .yml",
			arg:      "deploy",
			expected: "deploy.yml",
		},
		{
			name:     "directory with sop.yaml",
			arg:      "mysop",
			expected: filepath.Join("mysop", "sop.yaml"),
		},
		{
			name:     "directory path with trailing slash",
			arg:      "mysop/",
			expected: filepath.Join("mysop", "sop.yaml"),
		},
		{
			name:     "absolute path",
			arg:      absFile,
			expected: absFile,
		},
		{
			name:        "nonexistent file",
			arg:         "nonexistent",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolveManifestPath(tt.arg)

			if tt.shouldError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			// Normalize paths for comparison
			expectedAbs, _ := filepath.Abs(tt.expected)
			resultAbs, _ := filepath.Abs(result)

			if resultAbs != expectedAbs {
				t.Errorf("expected %q, got %q", expectedAbs, resultAbs)
			}
		})
	}
}

func TestResolveManifestPath_NotFoundError(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	_, err := ResolveManifestPath("missing")
	if !errors.IsNotFound(err) {
		t.Errorf("expected NotFoundError so callers can fall back to the catalog, got %v", err)
	}
}

func TestResolveManifestPath_EmptyDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	os.Mkdir("empty", 0755)

	_, err := ResolveManifestPath("empty")
	if err == nil {
		t.Error("expected error for directory without sop.yaml")
	}
}

func TestResolveManifestPath_PriorityOrder(t *testing.T) {
	// Exact file path takes precedence over name.yaml
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	os.Mkdir("test", 0755)
	os.WriteFile(filepath.Join("test", "sop.yaml"), []byte("name: dir"), 0644)
	os.WriteFile("test.yaml", []byte("name: file"), 0644)

	// Passing "test.yaml" finds the file directly
	result, err := ResolveManifestPath("test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "test.yaml" {
		t.Errorf("expected test.yaml, got %s", result)
	}

	// Passing "test" checks the directory first
	result, err = ResolveManifestPath("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := filepath.Join("test", "sop.yaml")
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
