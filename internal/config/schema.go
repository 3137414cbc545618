package config

import (
	"encoding/json"
	"fmt"

	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/goran-ethernal/BlockIndexor/config.schema.json"

// Schema returns the JSON Schema describing the configuration file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:               "json",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	schema := r.Reflect(&config.Config{})
	schema.ID = schemaID
	schema.Title = "BlockIndexor configuration"

	return schema
}

// SchemaJSON returns the configuration schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config schema: %w", err)
	}

	return data, nil
}
