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
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONResponseEnvelope(t *testing.T) {
	resp := NewJSONResponse("validate", true)

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal JSONResponse: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal JSONResponse: %v", err)
	}

	if decoded["@version"] != "1.0" {
		t.Errorf("@version = %v, want 1.0", decoded["@version"])
	}
	if decoded["command"] != "validate" {
		t.Errorf("command = %v, want validate", decoded["command"])
	}
	if decoded["success"] != true {
		t.Errorf("success = %v, want true", decoded["success"])
	}
}

func TestEmitJSONToIsIndented(t *testing.T) {
	type payload struct {
		JSONResponse
		RunID string `json:"runId"`
	}

	var buf bytes.Buffer
	resp := payload{
		JSONResponse: NewJSONResponse("run", true),
		RunID:        "abc-123",
	}
	if err := EmitJSONTo(&buf, resp); err != nil {
		t.Fatalf("EmitJSONTo: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "\n  \"command\": \"run\"") {
		t.Errorf("output not indented as expected:\n%s", out)
	}
	if !strings.Contains(out, `"runId": "abc-123"`) {
		t.Errorf("output missing payload field:\n%s", out)
	}
}

func TestJSONErrorOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(JSONError{Code: "E103", Message: "step failed"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out := string(data)
	if strings.Contains(out, "suggestion") {
		t.Errorf("empty suggestion should be omitted: %s", out)
	}
	if strings.Contains(out, "step") {
		t.Errorf("zero step should be omitted: %s", out)
	}
}
