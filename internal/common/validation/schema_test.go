package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name         string
		templateType string
		data         map[string]interface{}
		expectValid  bool
	}{
		{
			name:         "valid user welcome payload",
			templateType: "user_welcome",
			data:         map[string]interface{}{"firstName": "Ana"},
			expectValid:  true,
		},
		{
			name:         "missing required field",
			templateType: "user_welcome",
			data:         map[string]interface{}{"frontendUrl": "https://x"},
			expectValid:  false,
		},
		{
			name:         "empty required string",
			templateType: "merchant_welcome",
			data:         map[string]interface{}{"businessName": ""},
			expectValid:  false,
		},
		{
			name:         "extra fields are accepted",
			templateType: "plan_assigned",
			data:         map[string]interface{}{"planName": "Gold", "anything": 42},
			expectValid:  true,
		},
		{
			name:         "unregistered type is accepted as-is",
			templateType: "admin_alert",
			data:         map[string]interface{}{},
			expectValid:  true,
		},
		{
			name:         "nil data fails required check",
			templateType: "redemption_requested",
			data:         nil,
			expectValid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePayload(tt.templateType, tt.data)
			assert.Equal(t, tt.expectValid, result.Valid)
			if !tt.expectValid {
				assert.NotEmpty(t, result.Errors)
			}
		})
	}
}
