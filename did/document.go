package did

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blockialabs/go-ssi-kit/credential/common/dto"
)

// Default contexts for DID documents.
var DefaultContexts = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/v1",
}

// VerificationMethod is a key entry in a DID document. Exactly one
// non-blockchain key representation may be present; a blockchain account
// id may coexist with another representation.
type VerificationMethod struct {
	ID                 string                 `json:"id"`
	Type               string                 `json:"type"`
	Controller         string                 `json:"controller"`
	PublicKeyJwk       map[string]interface{} `json:"publicKeyJwk,omitempty"`
	PublicKeyMultibase string                 `json:"publicKeyMultibase,omitempty"`
	PublicKeyHex       string                 `json:"publicKeyHex,omitempty"`
	PublicKeyBase58    string                 `json:"publicKeyBase58,omitempty"`
	BlockchainAccountID string                `json:"blockchainAccountId,omitempty"`
}

// keyRepresentations counts the non-blockchain key forms on the method.
func (vm *VerificationMethod) keyRepresentations() int {
	n := 0
	if len(vm.PublicKeyJwk) > 0 {
		n++
	}
	if vm.PublicKeyMultibase != "" {
		n++
	}
	if vm.PublicKeyHex != "" {
		n++
	}
	if vm.PublicKeyBase58 != "" {
		n++
	}
	return n
}

// Relationship is a verification relationship entry: either a string
// reference to a verification method, or an inline method.
type Relationship struct {
	Reference string
	Embedded  *VerificationMethod
}

// MarshalJSON encodes a reference as a string and an embedded method as
// an object.
func (r Relationship) MarshalJSON() ([]byte, error) {
	if r.Embedded != nil {
		return json.Marshal(r.Embedded)
	}
	return json.Marshal(r.Reference)
}

// UnmarshalJSON accepts either form.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var ref string
	if err := json.Unmarshal(data, &ref); err == nil {
		r.Reference = ref
		return nil
	}
	var vm VerificationMethod
	if err := json.Unmarshal(data, &vm); err != nil {
		return fmt.Errorf("invalid verification relationship entry: %w", err)
	}
	r.Embedded = &vm
	return nil
}

// Service is a service endpoint entry.
type Service struct {
	ID              string      `json:"id"`
	Type            string      `json:"type"`
	ServiceEndpoint interface{} `json:"serviceEndpoint"`
}

// Document is a DID document. Instances produced by Builder.Seal are
// treated as immutable snapshots; accessors return copies.
type Document struct {
	Context              []string             `json:"@context"`
	ID                   string               `json:"id"`
	Controller           string               `json:"controller,omitempty"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication       []Relationship       `json:"authentication,omitempty"`
	AssertionMethod      []Relationship       `json:"assertionMethod,omitempty"`
	KeyAgreement         []Relationship       `json:"keyAgreement,omitempty"`
	CapabilityInvocation []Relationship       `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []Relationship       `json:"capabilityDelegation,omitempty"`
	Service              []Service            `json:"service,omitempty"`
	Proof                *dto.ProofSet        `json:"proof,omitempty"`
}

// Validate checks document invariants. It returns warnings for tolerated
// irregularities (a blockchain account id next to another key form) and
// an error for violations.
func (d *Document) Validate() ([]string, error) {
	if _, err := Parse(d.ID); err != nil {
		return nil, err
	}

	var warnings []string
	for i := range d.VerificationMethod {
		vm := &d.VerificationMethod[i]
		if vm.ID == "" {
			return nil, fmt.Errorf("verification method at index %d has no id", i)
		}
		if n := vm.keyRepresentations(); n > 1 {
			return nil, fmt.Errorf("verification method %q has %d key representations, want at most one", vm.ID, n)
		} else if n == 1 && vm.BlockchainAccountID != "" {
			warnings = append(warnings, fmt.Sprintf("verification method %q carries a blockchain account id alongside key material", vm.ID))
		}
	}

	for _, group := range [][]Relationship{
		d.Authentication, d.AssertionMethod, d.KeyAgreement,
		d.CapabilityInvocation, d.CapabilityDelegation,
	} {
		for _, rel := range group {
			if rel.Embedded != nil || rel.Reference == "" {
				continue
			}
			// References outside this document are resolved externally.
			if didPart, _, err := SplitDIDURL(rel.Reference); err == nil && didPart != d.ID {
				continue
			}
			if d.FindVerificationMethod(rel.Reference) == nil {
				return nil, fmt.Errorf("relationship reference %q does not resolve within document", rel.Reference)
			}
		}
	}

	return warnings, nil
}

// FindVerificationMethod returns the verification method whose id matches
// the given DID URL, either exactly or by fragment. Returns nil when
// absent.
func (d *Document) FindVerificationMethod(didURL string) *VerificationMethod {
	for i := range d.VerificationMethod {
		vm := &d.VerificationMethod[i]
		if vm.ID == didURL {
			return vm
		}
		// Tolerate a bare fragment reference within the document.
		if strings.HasPrefix(didURL, "#") && vm.ID == d.ID+didURL {
			return vm
		}
		if _, fragment, err := SplitDIDURL(didURL); err == nil && fragment != "" {
			if vm.ID == d.ID+"#"+fragment {
				return vm
			}
		}
	}
	return nil
}
