package validation

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed payload.schema.json
var payloadSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func payloadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchemaJSON))
	})
	return schema, schemaErr
}

// ValidatePayloadSchema checks the raw payload against the feature payload
// JSON schema. Field names in the result use the schema library's dotted
// form, e.g. "features.banner.rules.0.coverage".
func ValidatePayloadSchema(raw []byte) (*ValidationResult, error) {
	result := NewValidationResult()

	if len(raw) > MaxPayloadSize {
		result.AddError("(root)", "Payload must not exceed 5MB")
		return result, nil
	}

	s, err := payloadSchema()
	if err != nil {
		return nil, fmt.Errorf("load payload schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// Not JSON at all.
		result.AddError("(root)", "Payload must be valid JSON: "+err.Error())
		return result, nil
	}
	for _, e := range res.Errors() {
		result.AddError(e.Field(), e.Description())
	}
	return result, nil
}
