// Package validate checks state files against the embedded JSON schemas.
package validate

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	SessionSchema = "session"
	StepsSchema   = "steps"
)

// ValidateSession checks a serialized session document.
func ValidateSession(data []byte) error {
	return ValidateJSON(SessionSchema, data)
}

// ValidateStepsFile checks a step list as accepted by init --steps-file.
func ValidateStepsFile(data []byte) error {
	return ValidateJSON(StepsSchema, data)
}

func ValidateJSONFile(name, jsonPath string) error {
	// #nosec G304 -- caller-selected state or input file.
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("read json: %w", err)
	}
	return ValidateJSON(name, data)
}

func ValidateJSON(name string, data []byte) error {
	schema, err := loadSchema(name)
	if err != nil {
		return err
	}
	return validateJSON(schema, data)
}

// SchemaNames lists the embedded schemas.
func SchemaNames() []string {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".schema.json"))
	}
	sort.Strings(names)
	return names
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
