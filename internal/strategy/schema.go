package strategy

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates a JSON schema for the strategy Definition.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.Contains(t.String(), "optional.Option[float64]") {
				return &jsonschema.Schema{
					Type: "number",
				}
			}

			if strings.Contains(t.String(), "strategy.SizingMethod") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{SizingFixedFraction, SizingFixedQuantity, SizingFixedNotional},
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(&Definition{})

	schema.Title = "strategy-definition"
	schema.Description = "Declarative strategy definition evaluated by the backtest engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates a JSON schema string for the strategy Definition.
func GenerateSchemaJSON() (string, error) {
	schema := GenerateSchema()

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
