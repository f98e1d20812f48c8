package manifest

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed manifest.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(schemaJSON)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile manifest schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Validate checks encoded manifest bytes against the embedded schema.
func Validate(data []byte) error {
	s, err := loadSchema()
	if err != nil {
		return err
	}
	result := s.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("manifest validation failed: %v", result.Errors)
}
