// Package vp validates Verifiable Presentation holder-binding proofs.
// Unlike credential verification, which stops at the first failing
// proof, presentation validation accumulates every error it finds so a
// reviewer sees all mismatches at once.
package vp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/blockialabs/go-ssi-kit/credential/common/dto"
	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/common/provider"
	verificationmethod "github.com/blockialabs/go-ssi-kit/credential/common/verification-method"
	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/registry"
)

// ErrNoAuthenticationProof is returned when a presentation carries no
// proof with the authentication purpose.
var ErrNoAuthenticationProof = errors.New("presentation has no authentication proof")

// Expectations are the verifier-supplied challenge and domain a
// presentation proof must echo.
type Expectations struct {
	Challenge string
	Domain    string
}

// Validator checks presentation proofs.
type Validator struct {
	resolver  registry.Resolver
	providers *provider.Registry
}

// NewValidator creates a presentation proof validator.
func NewValidator(resolver registry.Resolver, providers *provider.Registry) *Validator {
	return &Validator{resolver: resolver, providers: providers}
}

// ValidateProofs validates every authentication proof on the
// presentation and returns all discovered errors. An empty slice means
// the presentation's holder binding is valid.
func (v *Validator) ValidateProofs(ctx context.Context, presentation jsonmap.JSONMap, exp Expectations) []error {
	proofSet, err := presentation.Proofs()
	if err != nil {
		return []error{fmt.Errorf("invalid presentation proof: %w", err)}
	}

	var authProofs []dto.Proof
	for _, proof := range proofSet.Proofs() {
		if proof.ProofPurpose == dto.PurposeAuthentication {
			authProofs = append(authProofs, proof)
		}
	}
	if len(authProofs) == 0 {
		return []error{ErrNoAuthenticationProof}
	}

	signingInput, err := signingInput(presentation)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for i, proof := range authProofs {
		for _, err := range v.validateProof(ctx, presentation, proof, signingInput, exp) {
			errs = append(errs, fmt.Errorf("authentication proof %d: %w", i, err))
		}
	}
	return errs
}

// signingInput derives the deterministic byte form the holder signed:
// the presentation with every proof stripped recursively, serialized
// with stable key ordering.
func signingInput(presentation jsonmap.JSONMap) ([]byte, error) {
	stripped := presentation.StripProofsRecursive()
	data, err := stripped.StableMarshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize presentation: %w", err)
	}
	return data, nil
}

func (v *Validator) validateProof(ctx context.Context, presentation jsonmap.JSONMap, proof dto.Proof, signingInput []byte, exp Expectations) []error {
	var errs []error

	if proof.VerificationMethod == "" {
		errs = append(errs, fmt.Errorf("verification method is missing"))
	}
	if proof.ProofValue == "" {
		errs = append(errs, fmt.Errorf("proof value is missing"))
	}
	if proof.Type == "" {
		errs = append(errs, fmt.Errorf("proof type is missing"))
	}
	if len(errs) > 0 {
		return errs
	}

	if exp.Challenge != "" && proof.Challenge != exp.Challenge {
		errs = append(errs, fmt.Errorf("challenge mismatch: got %q", proof.Challenge))
	}
	if exp.Domain != "" && proof.Domain != exp.Domain {
		errs = append(errs, fmt.Errorf("domain mismatch: got %q", proof.Domain))
	}

	holderDID, _, err := did.SplitDIDURL(proof.VerificationMethod)
	if err != nil {
		errs = append(errs, err)
		return errs
	}
	if declared, ok := presentation["holder"].(string); ok && declared != "" && declared != holderDID {
		errs = append(errs, fmt.Errorf("holder %q does not match proof key owner %q", declared, holderDID))
	}

	publicKeyHex, err := verificationmethod.ResolveKey(ctx, v.resolver, proof.VerificationMethod)
	if err != nil {
		errs = append(errs, err)
		return errs
	}

	signatureType, err := provider.SignatureTypeForProof(proof.Type)
	if err != nil {
		errs = append(errs, err)
		return errs
	}
	signatureProvider, err := v.providers.Lookup(signatureType)
	if err != nil {
		errs = append(errs, err)
		return errs
	}

	signatureBytes, err := hex.DecodeString(strings.TrimPrefix(proof.ProofValue, "0x"))
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to decode proof value: %w", err))
		return errs
	}

	valid, err := signatureProvider.Verify(ctx, signatureBytes, signingInput, publicKeyHex)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to verify signature: %w", err))
	} else if !valid {
		errs = append(errs, fmt.Errorf("signature verification failed"))
	}

	return errs
}
