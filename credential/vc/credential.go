// Package vc implements the credential issuance and verification
// pipeline: prepare (validate, strip proof, canonicalize), complete
// (verify signature, attach proof), issue, and verify.
package vc

import (
	"errors"
	"fmt"

	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
)

// Format identifies a credential format handled by the processor.
type Format string

// FormatLDP is the default JSON-LD linked-data-proof format.
const FormatLDP Format = "ldp_vc"

// TypeVerifiableCredential is the mandatory credential type entry.
const TypeVerifiableCredential = "VerifiableCredential"

var (
	// ErrUnsupportedFormat is returned when no handler is registered for
	// the requested credential format.
	ErrUnsupportedFormat = errors.New("unsupported credential format")
	// ErrSignatureInvalid is returned when proof signature verification
	// fails during completion.
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// ValidateStructure checks minimal credential invariants: a context, a
// type array including VerifiableCredential, and an issuer.
func ValidateStructure(credential jsonmap.JSONMap) error {
	if credential["@context"] == nil {
		return fmt.Errorf("credential has no @context")
	}

	if !hasType(credential, TypeVerifiableCredential) {
		return fmt.Errorf("credential type must include %q", TypeVerifiableCredential)
	}

	if IssuerID(credential) == "" {
		return fmt.Errorf("credential has no issuer")
	}

	return nil
}

func hasType(credential jsonmap.JSONMap, wanted string) bool {
	switch t := credential["type"].(type) {
	case string:
		return t == wanted
	case []interface{}:
		for _, entry := range t {
			if s, ok := entry.(string); ok && s == wanted {
				return true
			}
		}
	case []string:
		for _, s := range t {
			if s == wanted {
				return true
			}
		}
	}
	return false
}

// IssuerID extracts the issuer DID from either the string or object
// form of the issuer field.
func IssuerID(credential jsonmap.JSONMap) string {
	switch issuer := credential["issuer"].(type) {
	case string:
		return issuer
	case map[string]interface{}:
		if id, ok := issuer["id"].(string); ok {
			return id
		}
	}
	return ""
}

// SchemaIDs extracts the credentialSchema references of a credential.
func SchemaIDs(credential jsonmap.JSONMap) []string {
	var ids []string
	collect := func(entry interface{}) {
		if m, ok := entry.(map[string]interface{}); ok {
			if id, ok := m["id"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}

	switch s := credential["credentialSchema"].(type) {
	case map[string]interface{}:
		collect(s)
	case []interface{}:
		for _, entry := range s {
			collect(entry)
		}
	}
	return ids
}
