// Package validation checks notification payloads against per-template JSON
// schemas. Validation failures are advisory: the delivery channel logs them
// and continues, because a missing field degrades the rendered content but
// must never abort a send.
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PayloadSchemas maps template types to the JSON schema their data payload is
// expected to satisfy. Types without an entry are accepted as-is.
var PayloadSchemas = map[string]string{
	"user_welcome": `{
		"type": "object",
		"properties": {
			"firstName": {"type": "string", "minLength": 1},
			"frontendUrl": {"type": "string"}
		},
		"required": ["firstName"]
	}`,
	"merchant_welcome": `{
		"type": "object",
		"properties": {
			"businessName": {"type": "string", "minLength": 1},
			"frontendUrl":  {"type": "string"}
		},
		"required": ["businessName"]
	}`,
	"plan_assigned": `{
		"type": "object",
		"properties": {
			"planName":    {"type": "string", "minLength": 1},
			"expiresAt":   {"type": "string"},
			"dealLimit":   {"type": "integer", "minimum": 0}
		},
		"required": ["planName"]
	}`,
	"redemption_requested": `{
		"type": "object",
		"properties": {
			"dealTitle":    {"type": "string", "minLength": 1},
			"userName":  {"type": "string"},
			"code":      {"type": "string"}
		},
		"required": ["dealTitle"]
	}`,
}

// ValidatePayload validates a template data map against the registered schema
// for the given template type.
func ValidatePayload(templateType string, data map[string]interface{}) *ValidationResult {
	schemaJSON, ok := PayloadSchemas[templateType]
	if !ok {
		return &ValidationResult{Valid: true}
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "", Message: fmt.Sprintf("schema validation error: %v", err)},
			},
		}
	}

	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	out := &ValidationResult{Valid: false}
	for _, resErr := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   resErr.Field(),
			Message: resErr.Description(),
		})
	}
	return out
}
