package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const interactionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["actor_id", "product_id", "kind"],
	"properties": {
		"actor_id": {"type": "string", "format": "uuid"},
		"product_id": {"type": "string", "format": "uuid"},
		"kind": {"type": "string", "enum": ["view", "cart", "wishlist", "purchase", "search"]},
		"source": {"type": "string", "maxLength": 128},
		"search_query": {"type": "string", "maxLength": 512},
		"referrer_url": {"type": "string", "maxLength": 2048},
		"duration_seconds": {"type": "integer", "minimum": 0},
		"position": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

// InteractionValidator checks raw track-interaction payloads against the
// feed's JSON schema before they are accepted into the write path.
type InteractionValidator struct {
	schema *gojsonschema.Schema
}

func NewInteractionValidator() (*InteractionValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(interactionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile interaction schema: %w", err)
	}
	return &InteractionValidator{schema: schema}, nil
}

// Validate returns a per-field error list, empty for valid payloads.
func (v *InteractionValidator) Validate(payload []byte) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("validate interaction payload: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
