package schema

import (
	"encoding/json"
	"testing"
)

type window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type sample struct {
	Model  string   `json:"model" jsonschema:"description=ESM source id"`
	Period window   `json:"period"`
	Tags   []string `json:"tags,omitempty"`
}

func TestGenerate_ClosesNestedObjects(t *testing.T) {
	t.Parallel()

	m, err := Generate[sample]()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m["type"] != "object" {
		t.Fatalf("type=%v, want object", m["type"])
	}
	if m["additionalProperties"] != false {
		t.Fatalf("root additionalProperties=%v, want false", m["additionalProperties"])
	}
	props, ok := m["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("properties missing: %v", m)
	}
	period, ok := props["period"].(map[string]interface{})
	if !ok {
		t.Fatalf("period missing: %v", props)
	}
	if period["additionalProperties"] != false {
		t.Fatalf("period additionalProperties=%v, want false", period["additionalProperties"])
	}
	model, _ := props["model"].(map[string]interface{})
	if model["description"] != "ESM source id" {
		t.Fatalf("model description=%v", model["description"])
	}
}

func TestGenerateJSON_Valid(t *testing.T) {
	t.Parallel()

	b, err := GenerateJSON[sample]()
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
}
