package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Verifier validates credential content against a JSON schema. The zero
// behavior resolves schema ids as remote references; WithSchemaJSON pins
// an inline schema instead.
type Verifier struct {
	inline map[string]string
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithSchemaJSON registers an inline schema document for a schema id,
// avoiding remote fetches during validation.
func WithSchemaJSON(schemaID, schemaJSON string) VerifierOpt {
	return func(v *Verifier) {
		v.inline[schemaID] = schemaJSON
	}
}

// NewVerifier creates a schema verifier.
func NewVerifier(opts ...VerifierOpt) *Verifier {
	v := &Verifier{inline: make(map[string]string)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks content against the schema identified by schemaID.
// Validation failures carry the underlying schema errors verbatim.
func (v *Verifier) Validate(content map[string]interface{}, schemaID string) error {
	if schemaID == "" {
		return fmt.Errorf("schema validation: schema id is empty")
	}

	var schemaLoader gojsonschema.JSONLoader
	if inline, ok := v.inline[schemaID]; ok {
		schemaLoader = gojsonschema.NewStringLoader(inline)
	} else {
		schemaLoader = gojsonschema.NewReferenceLoader(schemaID)
	}

	contentLoader := gojsonschema.NewGoLoader(content)
	result, err := gojsonschema.Validate(schemaLoader, contentLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("credential does not match schema %s: %v", schemaID, result.Errors())
	}

	return nil
}
