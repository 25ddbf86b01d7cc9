package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/michaelbrown/funcgate/internal/llm"
)

// functionDefSchema is the structure every function definition must have
// before it is shown to the model.
const functionDefSchema = `{
  "type": "object",
  "required": ["name", "description", "parameters"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "parameters": {
      "type": "object",
      "required": ["type", "properties"],
      "properties": {
        "type": {"enum": ["object"]},
        "properties": {"type": "object"},
        "required": {"type": "array"}
      }
    }
  }
}`

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		loader := gojsonschema.NewStringLoader(functionDefSchema)
		compiledSchema, compileErr = gojsonschema.NewSchema(loader)
	})
	return compiledSchema, compileErr
}

// CheckFunctionDefs rejects the whole set if any definition is malformed.
func CheckFunctionDefs(defs []llm.FunctionDefinition) error {
	if len(defs) == 0 {
		return nil
	}

	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("compiling function definition schema: %w", err)
	}

	for i, def := range defs {
		data, err := json.Marshal(def)
		if err != nil {
			return validationf("function %d: %v", i, err)
		}

		result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return validationf("function %d: %v", i, err)
		}
		if result.Valid() {
			continue
		}

		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		name := def.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		return validationf("function %s: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}
