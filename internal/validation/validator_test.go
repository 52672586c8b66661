package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/TimurManjosov/flagkit/internal/condition"
	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/value"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantValid   bool
		wantMessage string
	}{
		{name: "valid alphanumeric", key: "my_flag_123", wantValid: true},
		{name: "valid with dots and colons", key: "checkout.v2:button", wantValid: true},
		{name: "empty key", key: "", wantMessage: "Key is required"},
		{name: "whitespace only", key: "   ", wantMessage: "Key is required"},
		{name: "too long", key: strings.Repeat("a", 129), wantMessage: "Key must not exceed 128 characters"},
		{name: "exactly 128 chars", key: strings.Repeat("a", 128), wantValid: true},
		{name: "contains spaces", key: "my flag", wantMessage: "Key must contain only alphanumeric characters, underscores, hyphens, dots, and colons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateKey("key", tt.key)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateKey(%q).Valid = %v, want %v", tt.key, result.Valid, tt.wantValid)
			}
			if !tt.wantValid && result.Errors["key"] != tt.wantMessage {
				t.Errorf("ValidateKey(%q) error = %q, want %q", tt.key, result.Errors["key"], tt.wantMessage)
			}
		})
	}
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name       string
		weights    []float64
		variations int
		wantValid  bool
	}{
		{"no weights", nil, 3, true},
		{"even split", []float64{0.5, 0.5}, 2, true},
		{"rounding tolerated", []float64{0.333, 0.333, 0.333}, 3, true},
		{"count mismatch", []float64{0.5, 0.5}, 3, false},
		{"negative", []float64{-0.5, 1.5}, 2, false},
		{"sum too low", []float64{0.2, 0.2}, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateWeights("w", tt.weights, tt.variations).Valid; got != tt.wantValid {
				t.Errorf("ValidateWeights(%v, %d).Valid = %v, want %v", tt.weights, tt.variations, got, tt.wantValid)
			}
		})
	}
}

func TestValidateCoverage(t *testing.T) {
	ok, bad := 0.5, 1.5
	if !ValidateCoverage("c", nil).Valid || !ValidateCoverage("c", &ok).Valid {
		t.Error("expected nil and 0.5 coverage to be valid")
	}
	if ValidateCoverage("c", &bad).Valid {
		t.Error("expected 1.5 coverage to be invalid")
	}
}

func TestMerge(t *testing.T) {
	a := NewValidationResult()
	b := NewValidationResult()
	b.AddError("z", "last")
	b.AddError("a", "first")
	a.Merge(b)
	a.Merge(nil)

	if a.Valid {
		t.Error("merged result should be invalid")
	}
	if got := a.Fields(); len(got) != 2 || got[0] != "a" || got[1] != "z" {
		t.Errorf("Fields() = %v, want [a z]", got)
	}
}

func TestValidatePayloadSchema(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantValid bool
		wantField string
	}{
		{
			name:      "minimal",
			payload:   `{"features": {}}`,
			wantValid: true,
		},
		{
			name: "full rule",
			payload: `{"features": {"f": {"defaultValue": 1, "rules": [{
				"key": "exp", "variations": [0, 1], "weights": [0.5, 0.5], "coverage": 0.5,
				"namespace": ["ns", 0, 0.5], "hashVersion": 2,
				"filters": [{"seed": "s", "ranges": [[0, 0.5]]}]
			}]}}, "savedGroups": {"beta": ["a"]}}`,
			wantValid: true,
		},
		{
			name:      "missing features",
			payload:   `{"savedGroups": {}}`,
			wantField: "(root)",
		},
		{
			name:      "coverage out of range",
			payload:   `{"features": {"f": {"rules": [{"coverage": 2}]}}}`,
			wantField: "features.f.rules.0.coverage",
		},
		{
			name:      "bad hash version",
			payload:   `{"features": {"f": {"rules": [{"hashVersion": 3}]}}}`,
			wantField: "features.f.rules.0.hashVersion",
		},
		{
			name:      "not json",
			payload:   `{"features": `,
			wantField: "(root)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidatePayloadSchema([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ValidatePayloadSchema: %v", err)
			}
			if result.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors: %v)", result.Valid, tt.wantValid, result.Errors)
			}
			if tt.wantField != "" {
				if _, ok := result.Errors[tt.wantField]; !ok {
					t.Errorf("expected error on %q, got %v", tt.wantField, result.Errors)
				}
			}
		})
	}
}

func decodeFeatures(t *testing.T, raw string) engine.Features {
	t.Helper()
	var f engine.Features
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("decode features: %v", err)
	}
	return f
}

func TestLintFeatures_Clean(t *testing.T) {
	features := decodeFeatures(t, `{
		"parent": {"defaultValue": true},
		"f": {"defaultValue": "a", "rules": [
			{"condition": {"$or": [{"version": {"$vgte": "1.2.0"}}, {"email": {"$regex": "@example\\.com$"}}]}, "force": "b"},
			{"condition": {"id": {"$inGroup": "beta"}}, "parentConditions": [{"id": "parent", "condition": {"value": true}}], "force": "c"},
			{"variations": ["a", "b"], "weights": [0.5, 0.5], "meta": [{"key": "x"}, {"key": "y"}], "bucketVersion": 2, "minBucketVersion": 1}
		]}
	}`)
	groups := condition.SavedGroups{"beta": value.Array(value.String("u1"))}

	result := LintFeatures(features, groups)
	if !result.Valid {
		t.Errorf("expected clean lint, got %v", result.Errors)
	}
}

func TestLintFeatures_Problems(t *testing.T) {
	features := decodeFeatures(t, `{
		"f": {"rules": [
			{"condition": {"name": {"$regex": "("}}, "force": 1},
			{"condition": {"v": {"$vgt": "not-a-version"}}, "force": 1},
			{"condition": {"id": {"$inGroup": "missing"}}, "force": 1},
			{"condition": {"x": {"$bogus": 1}}, "force": 1},
			{"condition": {"$where": "1"}, "force": 1},
			{"parentConditions": [{"id": "f", "condition": {"value": true}}], "force": 1},
			{"parentConditions": [{"id": "ghost", "condition": {"value": true}}], "force": 1},
			{"variations": ["only"]},
			{"variations": ["a", "b"], "weights": [0.9, 0.9]},
			{"variations": ["a", "b"], "namespace": ["ns", 0.8, 0.2]},
			{"variations": ["a", "b"], "bucketVersion": 1, "minBucketVersion": 2},
			{"id": "empty"},
			{"variations": ["a", "b"], "ranges": [[0.6, 0.4], [0.5, 1]]}
		]},
		"bad key": {"defaultValue": 1}
	}`)

	result := LintFeatures(features, nil)
	want := []string{
		"features.f.rules[0].condition.name.$regex",
		"features.f.rules[1].condition.v.$vgt",
		"features.f.rules[2].condition.id.$inGroup",
		"features.f.rules[3].condition.x.$bogus",
		"features.f.rules[4].condition.$where",
		"features.f.rules[5].parentConditions[0]",
		"features.f.rules[6].parentConditions[0]",
		"features.f.rules[7].variations",
		"features.f.rules[8].weights",
		"features.f.rules[9].namespace",
		"features.f.rules[10].minBucketVersion",
		"features.f.rules[11]",
		"features.f.rules[12].ranges",
		"features.bad key",
	}
	for _, field := range want {
		if _, ok := result.Errors[field]; !ok {
			t.Errorf("missing lint error for %s", field)
		}
	}
	if len(result.Errors) != len(want) {
		t.Errorf("got %d errors, want %d: %v", len(result.Errors), len(want), result.Fields())
	}
}
