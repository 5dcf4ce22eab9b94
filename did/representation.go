package did

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Content types for DID document representations.
const (
	ContentTypeJSON   = "application/did+json"
	ContentTypeJSONLD = "application/did+ld+json"
	ContentTypeCBOR   = "application/did+cbor"
)

// ErrUnsupportedContentType is returned for unknown representation types.
var ErrUnsupportedContentType = errors.New("unsupported DID document content type")

// Representation serializes the document for the requested content type.
func (d *Document) Representation(contentType string) ([]byte, error) {
	switch contentType {
	case ContentTypeJSON:
		return d.marshalPlainJSON()
	case ContentTypeJSONLD, "":
		return json.Marshal(d)
	case ContentTypeCBOR:
		return d.marshalCBOR()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
}

// marshalPlainJSON drops the @context for the plain JSON representation.
func (d *Document) marshalPlainJSON() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DID document: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to re-decode DID document: %w", err)
	}
	delete(m, "@context")
	return json.Marshal(m)
}

func (d *Document) marshalCBOR() ([]byte, error) {
	// CBOR encodes the JSON-shaped map so field names round-trip with the
	// JSON representations.
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DID document: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to re-decode DID document: %w", err)
	}

	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build CBOR encoder: %w", err)
	}
	return mode.Marshal(m)
}

// ParseDocument decodes a JSON or JSON-LD DID document.
func ParseDocument(raw []byte) (*Document, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("DID document is empty")
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DID document: %w", err)
	}
	return &doc, nil
}
