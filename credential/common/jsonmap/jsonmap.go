package jsonmap

import (
	"encoding/json"
	"fmt"

	"github.com/blockialabs/go-ssi-kit/credential/common/dto"
	"github.com/blockialabs/go-ssi-kit/credential/common/processor"
)

// JSONMap represents a JSON object as a map.
type JSONMap map[string]interface{}

// FromJSON parses raw JSON into a JSONMap.
func FromJSON(raw []byte) (JSONMap, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("JSON string is empty")
	}
	var m JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return m, nil
}

// ToJSON serializes the JSONMap to JSON.
func (m JSONMap) ToJSON() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("JSONMap is nil")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONMap: %w", err)
	}
	return data, nil
}

// Copy returns a shallow copy of the map.
func (m JSONMap) Copy() JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithoutProof returns a copy of the map with the top-level proof field
// removed. The receiver is never mutated.
func (m JSONMap) WithoutProof() JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		if k != "proof" {
			out[k] = v
		}
	}
	return out
}

// Proofs parses the proof field into a ProofSet.
func (m JSONMap) Proofs() (dto.ProofSet, error) {
	return dto.ParseProofSet(m["proof"])
}

// SetProofs stores a ProofSet on the map, replacing any existing proof.
func (m JSONMap) SetProofs(s dto.ProofSet) {
	raw := dto.SerializeProofSet(s)
	if raw == nil {
		delete(m, "proof")
		return
	}
	m["proof"] = raw
}

// Canonicalize produces the canonical n-quads form of the document with
// the proof field excluded. The result is deterministic for a given
// proof-free document.
func (m JSONMap) Canonicalize(opts ...processor.Opt) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("JSONMap is nil")
	}

	// Round-trip through JSON so nested typed values decode uniformly.
	encoded, err := json.Marshal(m.WithoutProof())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONMap copy: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSONMap copy: %w", err)
	}

	return processor.Canonicalize(doc, opts...)
}

// CanonicalDigest canonicalizes the proof-free document and returns the
// SHA-256 digest of the canonical form.
func (m JSONMap) CanonicalDigest(opts ...processor.Opt) ([]byte, error) {
	canonical, err := m.Canonicalize(opts...)
	if err != nil {
		return nil, err
	}
	return processor.Digest(canonical), nil
}

// StripProofsRecursive returns a deep copy of the map with every proof
// field removed, at any nesting depth. Used for presentation signing
// input, where embedded credentials carry proofs of their own.
func (m JSONMap) StripProofsRecursive() JSONMap {
	return stripProofs(map[string]interface{}(m)).(JSONMap)
}

func stripProofs(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(JSONMap, len(val))
		for k, nested := range val {
			if k == "proof" {
				continue
			}
			out[k] = stripProofs(nested)
		}
		return out
	case JSONMap:
		return stripProofs(map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, nested := range val {
			out[i] = stripProofs(nested)
		}
		return out
	default:
		return v
	}
}

// StableMarshal serializes the map with lexicographically ordered keys at
// every level, giving a deterministic byte form without JSON-LD
// processing. encoding/json already sorts map keys.
func (m JSONMap) StableMarshal() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("JSONMap is nil")
	}
	data, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONMap: %w", err)
	}
	return data, nil
}
