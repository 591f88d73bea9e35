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
	"strings"

	"github.com/tombee/runbook/pkg/errors"
)

// parseVars converts --var key=value pairs into the run's parameter map.
// Later duplicates win. Values may contain '='; keys may not be empty.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, &errors.ValidationError{
				Field:       "var",
				Message:     fmt.Sprintf("invalid variable %q", pair),
				SuggestText: "pass variables as --var key=value",
			}
		}
		params[key] = value
	}
	return params, nil
}
