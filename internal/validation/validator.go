// Package validation checks feature payloads before they are served:
// a JSON schema pass over the raw document and a semantic lint over the
// decoded features.
package validation

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength is the maximum length for feature keys
	MaxKeyLength = 128
	// MaxPayloadSize is the maximum size of a feature payload in bytes
	MaxPayloadSize = 5 * 1024 * 1024 // 5MB
	// weightSumTolerance matches the range the bucketing code accepts
	weightSumTolerance = 0.01
)

// keyPattern matches alphanumeric characters, underscores, hyphens, dots and colons
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make(map[string]string),
	}
}

// AddError adds a field error and marks the result as invalid
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors[field] = message
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// Fields returns the fields with errors in sorted order.
func (v *ValidationResult) Fields() []string {
	fields := make([]string, 0, len(v.Errors))
	for f := range v.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ValidateKey validates a feature key
func ValidateKey(field, key string) *ValidationResult {
	result := NewValidationResult()

	if strings.TrimSpace(key) == "" {
		result.AddError(field, "Key is required")
		return result
	}

	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.AddError(field, "Key must not exceed 128 characters")
		return result
	}

	if !keyPattern.MatchString(key) {
		result.AddError(field, "Key must contain only alphanumeric characters, underscores, hyphens, dots, and colons")
		return result
	}

	return result
}

// ValidateWeights checks an experiment's weights against its variation count.
func ValidateWeights(field string, weights []float64, variations int) *ValidationResult {
	result := NewValidationResult()

	if len(weights) == 0 {
		return result
	}

	if len(weights) != variations {
		result.AddError(field, "Weights must have one entry per variation")
		return result
	}

	total := 0.0
	for _, w := range weights {
		if w < 0 || w > 1 {
			result.AddError(field, "Each weight must be between 0 and 1")
			return result
		}
		total += w
	}

	if total < 1-weightSumTolerance || total > 1+weightSumTolerance {
		result.AddError(field, "Weights must sum to 1")
	}

	return result
}

// ValidateCoverage checks that coverage is a fraction.
func ValidateCoverage(field string, coverage *float64) *ValidationResult {
	result := NewValidationResult()

	if coverage != nil && (*coverage < 0 || *coverage > 1) {
		result.AddError(field, "Coverage must be between 0 and 1")
	}

	return result
}
