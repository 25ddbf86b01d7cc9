package prompt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/funcgate/internal/llm"
)

func decodeDefs(t *testing.T, data string) []llm.FunctionDefinition {
	t.Helper()
	var defs []llm.FunctionDefinition
	require.NoError(t, json.Unmarshal([]byte(data), &defs))
	return defs
}

func TestCheckFunctionDefs(t *testing.T) {
	tests := []struct {
		name    string
		defs    string
		wantErr bool
	}{
		{
			name: "minimal object schema",
			defs: `[{"name":"f","description":"d","parameters":{"type":"object","properties":{},"required":[]}}]`,
		},
		{
			name: "without required",
			defs: `[{"name":"f","description":"d","parameters":{"type":"object","properties":{"x":{"type":"integer"}}}}]`,
		},
		{
			name:    "string parameters type",
			defs:    `[{"name":"f","description":"d","parameters":{"type":"string","properties":{}}}]`,
			wantErr: true,
		},
		{
			name:    "missing name",
			defs:    `[{"description":"d","parameters":{"type":"object","properties":{}}}]`,
			wantErr: true,
		},
		{
			name:    "empty name",
			defs:    `[{"name":"","description":"d","parameters":{"type":"object","properties":{}}}]`,
			wantErr: true,
		},
		{
			name:    "missing description",
			defs:    `[{"name":"f","parameters":{"type":"object","properties":{}}}]`,
			wantErr: true,
		},
		{
			name:    "missing parameters",
			defs:    `[{"name":"f","description":"d"}]`,
			wantErr: true,
		},
		{
			name:    "missing properties",
			defs:    `[{"name":"f","description":"d","parameters":{"type":"object"}}]`,
			wantErr: true,
		},
		{
			name:    "properties not an object",
			defs:    `[{"name":"f","description":"d","parameters":{"type":"object","properties":[]}}]`,
			wantErr: true,
		},
		{
			name:    "required not an array",
			defs:    `[{"name":"f","description":"d","parameters":{"type":"object","properties":{},"required":"x"}}]`,
			wantErr: true,
		},
		{
			name: "second definition invalid",
			defs: `[
				{"name":"f","description":"d","parameters":{"type":"object","properties":{}}},
				{"name":"g","description":"d","parameters":{"type":"array","properties":{}}}
			]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFunctionDefs(decodeDefs(t, tt.defs))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestCheckFunctionDefsEmpty(t *testing.T) {
	assert.NoError(t, CheckFunctionDefs(nil))
}
