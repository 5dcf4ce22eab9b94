package dto

import (
	"encoding/json"
	"fmt"
)

// Proof purposes used across credentials and presentations.
const (
	PurposeAssertionMethod = "assertionMethod"
	PurposeAuthentication  = "authentication"
)

// Proof represents a Linked Data Proof attached to a credential,
// presentation or DID document.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue,omitempty"`
	JWS                string `json:"jws,omitempty"`
	Cryptosuite        string `json:"cryptosuite,omitempty"`
	Challenge          string `json:"challenge,omitempty"`
	Domain             string `json:"domain,omitempty"`
}

// ProofSet holds the proof field of a document, which may be a single
// proof object or an array of proofs. All consumers go through Proofs
// instead of inspecting the raw JSON shape.
type ProofSet struct {
	proofs   []Proof
	multiple bool
}

// NewProofSet builds a ProofSet from one or more proofs. A set built from
// exactly one proof serializes back to a single JSON object.
func NewProofSet(proofs ...Proof) ProofSet {
	return ProofSet{proofs: proofs, multiple: len(proofs) > 1}
}

// Proofs returns every proof in the set in document order.
func (s ProofSet) Proofs() []Proof {
	out := make([]Proof, len(s.proofs))
	copy(out, s.proofs)
	return out
}

// Empty reports whether the set carries no proof.
func (s ProofSet) Empty() bool {
	return len(s.proofs) == 0
}

// Add appends a proof, preserving the single-object encoding only while
// the set holds at most one proof.
func (s ProofSet) Add(p Proof) ProofSet {
	proofs := append(s.Proofs(), p)
	return ProofSet{proofs: proofs, multiple: len(proofs) > 1}
}

// MarshalJSON encodes a single proof as an object and several proofs as
// an array, matching the W3C data model.
func (s ProofSet) MarshalJSON() ([]byte, error) {
	if len(s.proofs) == 0 {
		return []byte("null"), nil
	}
	if len(s.proofs) == 1 && !s.multiple {
		return json.Marshal(s.proofs[0])
	}
	return json.Marshal(s.proofs)
}

// UnmarshalJSON accepts either a proof object or an array of proofs.
func (s *ProofSet) UnmarshalJSON(data []byte) error {
	var single Proof
	if err := json.Unmarshal(data, &single); err == nil {
		s.proofs = []Proof{single}
		s.multiple = false
		return nil
	}

	var many []Proof
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("failed to unmarshal proof: %w", err)
	}
	s.proofs = many
	s.multiple = true
	return nil
}

// ParseProofSet converts the raw proof field of a decoded JSON document
// into a ProofSet. The raw value may be a map, a slice of maps, or nil.
func ParseProofSet(raw interface{}) (ProofSet, error) {
	switch v := raw.(type) {
	case nil:
		return ProofSet{}, nil
	case map[string]interface{}:
		p, err := ParseProof(v)
		if err != nil {
			return ProofSet{}, err
		}
		return ProofSet{proofs: []Proof{p}}, nil
	case []interface{}:
		proofs := make([]Proof, 0, len(v))
		for i, entry := range v {
			m, ok := entry.(map[string]interface{})
			if !ok {
				return ProofSet{}, fmt.Errorf("invalid proof at index %d: expected object, got %T", i, entry)
			}
			p, err := ParseProof(m)
			if err != nil {
				return ProofSet{}, fmt.Errorf("invalid proof at index %d: %w", i, err)
			}
			proofs = append(proofs, p)
		}
		return ProofSet{proofs: proofs, multiple: true}, nil
	default:
		return ProofSet{}, fmt.Errorf("invalid proof format: expected object or array, got %T", raw)
	}
}

// ParseProof converts a single decoded proof object into a Proof struct.
func ParseProof(proof map[string]interface{}) (Proof, error) {
	var result Proof
	if t, ok := proof["type"].(string); ok {
		result.Type = t
	}
	if created, ok := proof["created"].(string); ok {
		result.Created = created
	}
	if vm, ok := proof["verificationMethod"].(string); ok {
		result.VerificationMethod = vm
	}
	if purpose, ok := proof["proofPurpose"].(string); ok {
		result.ProofPurpose = purpose
	}
	if pv, ok := proof["proofValue"].(string); ok {
		result.ProofValue = pv
	}
	if jws, ok := proof["jws"].(string); ok {
		result.JWS = jws
	}
	if cs, ok := proof["cryptosuite"].(string); ok {
		result.Cryptosuite = cs
	}
	if ch, ok := proof["challenge"].(string); ok {
		result.Challenge = ch
	}
	if dm, ok := proof["domain"].(string); ok {
		result.Domain = dm
	}
	return result, nil
}

// SerializeProofSet converts a ProofSet into the raw JSON representation
// stored on a document map: a single object for one proof, an array for
// several, nil for none.
func SerializeProofSet(s ProofSet) interface{} {
	proofs := s.Proofs()
	if len(proofs) == 0 {
		return nil
	}
	serialized := make([]map[string]interface{}, len(proofs))
	for i, p := range proofs {
		serialized[i] = serializeProof(p)
	}
	if len(serialized) == 1 {
		return serialized[0]
	}
	out := make([]interface{}, len(serialized))
	for i, m := range serialized {
		out[i] = m
	}
	return out
}

func serializeProof(p Proof) map[string]interface{} {
	m := make(map[string]interface{})
	if p.Type != "" {
		m["type"] = p.Type
	}
	if p.Created != "" {
		m["created"] = p.Created
	}
	if p.VerificationMethod != "" {
		m["verificationMethod"] = p.VerificationMethod
	}
	if p.ProofPurpose != "" {
		m["proofPurpose"] = p.ProofPurpose
	}
	if p.ProofValue != "" {
		m["proofValue"] = p.ProofValue
	}
	if p.JWS != "" {
		m["jws"] = p.JWS
	}
	if p.Cryptosuite != "" {
		m["cryptosuite"] = p.Cryptosuite
	}
	if p.Challenge != "" {
		m["challenge"] = p.Challenge
	}
	if p.Domain != "" {
		m["domain"] = p.Domain
	}
	return m
}
