package jobrunner

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/laviprog/speech-api/internal/domain/model"
)

//go:embed descriptor.schema.json
var descriptorSchemaJSON []byte

const descriptorSchemaURL = "descriptor.schema.json"

func compileDescriptorSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(descriptorSchemaURL, bytes.NewReader(descriptorSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add descriptor schema: %w", err)
	}
	schema, err := compiler.Compile(descriptorSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}
	return schema, nil
}

// decodeDescriptor validates a broker payload against the descriptor schema
// before decoding it.
func decodeDescriptor(schema *jsonschema.Schema, payload []byte) (*model.TaskDescriptor, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("descriptor does not match schema: %w", err)
	}
	var desc model.TaskDescriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	return &desc, nil
}
