package vc

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/blockialabs/go-ssi-kit/credential/common/dto"
	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/common/provider"
	"github.com/blockialabs/go-ssi-kit/credential/common/schema"
	verificationmethod "github.com/blockialabs/go-ssi-kit/credential/common/verification-method"
	"github.com/blockialabs/go-ssi-kit/did/registry"
	"github.com/blockialabs/go-ssi-kit/signer"
)

// Processor orchestrates format-specific canonicalization, schema
// validation and proof attachment/verification for credentials.
type Processor struct {
	formats   map[Format]FormatHandler
	providers *provider.Registry
	resolver  registry.Resolver
	schemas   *schema.Verifier
	now       func() time.Time
}

// ProcessorOpt configures a Processor.
type ProcessorOpt func(*Processor)

// WithFormatHandler registers a format handler.
func WithFormatHandler(format Format, handler FormatHandler) ProcessorOpt {
	return func(p *Processor) {
		p.formats[format] = handler
	}
}

// WithSchemaVerifier enables schema validation during prepare.
func WithSchemaVerifier(v *schema.Verifier) ProcessorOpt {
	return func(p *Processor) {
		p.schemas = v
	}
}

// WithClock overrides the time source used for proof timestamps.
func WithClock(now func() time.Time) ProcessorOpt {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a credential processor. The JSON-LD handler is
// registered by default.
func NewProcessor(providers *provider.Registry, resolver registry.Resolver, opts ...ProcessorOpt) *Processor {
	p := &Processor{
		formats:   map[Format]FormatHandler{FormatLDP: NewLDPHandler()},
		providers: providers,
		resolver:  resolver,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrepareOptions carries prepare-time inputs.
type PrepareOptions struct {
	// Format selects the format handler; empty means JSON-LD.
	Format Format
	// SkipSchemaValidation bypasses schema checks even when a verifier
	// is configured.
	SkipSchemaValidation bool
}

// PreparedCredential is the ephemeral output of PrepareIssuance: the
// proof-free credential, its canonical form, and the options that
// produced it. It is owned by the caller until completion.
type PreparedCredential struct {
	Credential    jsonmap.JSONMap
	CanonicalForm string
	Format        Format
	Options       PrepareOptions
}

// PrepareIssuance validates a credential, strips any existing proof and
// computes its canonical form.
func (p *Processor) PrepareIssuance(ctx context.Context, credential jsonmap.JSONMap, opts PrepareOptions) (*PreparedCredential, error) {
	format := opts.Format
	if format == "" {
		format = FormatLDP
	}
	handler, ok := p.formats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := ValidateStructure(credential); err != nil {
		return nil, err
	}

	stripped := credential.WithoutProof()

	if p.schemas != nil && !opts.SkipSchemaValidation {
		for _, schemaID := range SchemaIDs(stripped) {
			if err := p.schemas.Validate(stripped, schemaID); err != nil {
				return nil, err
			}
		}
	}

	canonicalForm, err := handler.Canonicalize(ctx, stripped)
	if err != nil {
		return nil, err
	}
	if canonicalForm == "" {
		return nil, fmt.Errorf("failed to canonicalize credential: canonical form is empty")
	}

	return &PreparedCredential{
		Credential:    stripped,
		CanonicalForm: canonicalForm,
		Format:        format,
		Options:       opts,
	}, nil
}

// CompleteOptions carries completion-time inputs. Signature is the
// hex-encoded signature over the canonical form; it is echoed verbatim
// into the attached proof's proofValue.
type CompleteOptions struct {
	VerificationMethod string
	Signature          string
	SignatureType      provider.SignatureType
	ProofType          string
	ProofPurpose       string
	Challenge          string
	Domain             string
}

// CompleteIssuance verifies a signature over the prepared canonical form
// and attaches the resulting proof to the credential.
func (p *Processor) CompleteIssuance(ctx context.Context, prepared *PreparedCredential, opts CompleteOptions) (jsonmap.JSONMap, error) {
	if prepared == nil {
		return nil, fmt.Errorf("prepared credential is nil")
	}
	if opts.VerificationMethod == "" {
		return nil, fmt.Errorf("verification method is required")
	}
	if opts.Signature == "" {
		return nil, fmt.Errorf("signature is required")
	}

	publicKeyHex, err := verificationmethod.ResolveKey(ctx, p.resolver, opts.VerificationMethod)
	if err != nil {
		return nil, err
	}

	proofType := opts.ProofType
	if proofType == "" {
		proofType = "EcdsaSecp256k1Signature2019"
	}

	signatureType := opts.SignatureType
	if signatureType == "" {
		signatureType = provider.Secp256k1
		if opts.ProofType != "" {
			signatureType, err = provider.SignatureTypeForProof(opts.ProofType)
			if err != nil {
				return nil, err
			}
		}
	}

	signatureProvider, err := p.providers.Lookup(signatureType)
	if err != nil {
		return nil, err
	}

	signatureBytes, err := hex.DecodeString(strings.TrimPrefix(opts.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	valid, err := signatureProvider.Verify(ctx, signatureBytes, []byte(prepared.CanonicalForm), publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	proofPurpose := opts.ProofPurpose
	if proofPurpose == "" {
		proofPurpose = dto.PurposeAssertionMethod
	}

	proof := dto.Proof{
		Type:               proofType,
		Created:            p.now().UTC().Format(time.RFC3339),
		VerificationMethod: opts.VerificationMethod,
		ProofPurpose:       proofPurpose,
		ProofValue:         opts.Signature,
		Challenge:          opts.Challenge,
		Domain:             opts.Domain,
	}

	issued := prepared.Credential.Copy()
	issued.SetProofs(dto.NewProofSet(proof))
	return issued, nil
}

// IssueOptions combines prepare and complete inputs for Issue.
type IssueOptions struct {
	Prepare  PrepareOptions
	Complete CompleteOptions
}

// Issue composes prepare, an external signing call over the canonical
// form, and complete.
func (p *Processor) Issue(ctx context.Context, credential jsonmap.JSONMap, s signer.Signer, opts IssueOptions) (jsonmap.JSONMap, error) {
	prepared, err := p.PrepareIssuance(ctx, credential, opts.Prepare)
	if err != nil {
		return nil, err
	}

	signature, err := s.Sign(ctx, []byte(prepared.CanonicalForm))
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	complete := opts.Complete
	complete.Signature = hex.EncodeToString(signature)
	return p.CompleteIssuance(ctx, prepared, complete)
}

// VerifyOptions carries verification expectations.
type VerifyOptions struct {
	Challenge string
	Domain    string
}

// VerificationResult is the outcome of Verify. Verification is a query:
// an invalid credential is a false result with a reason, not an error.
type VerificationResult struct {
	Valid  bool
	Reason string
}

func invalid(format string, args ...interface{}) VerificationResult {
	return VerificationResult{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// Verify re-derives the canonical form of the credential and checks
// every attached proof against it. All proofs must pass; the first
// failure short-circuits with its reason.
func (p *Processor) Verify(ctx context.Context, credential jsonmap.JSONMap, opts VerifyOptions) VerificationResult {
	proofs, err := credential.Proofs()
	if err != nil {
		return invalid("invalid proof: %v", err)
	}
	if proofs.Empty() {
		return invalid("credential has no proof")
	}

	// Re-run prepare so verification sees the exact canonical form that
	// was signed. Schema validation is repeated deliberately: a
	// credential that no longer validates must not verify.
	prepared, err := p.PrepareIssuance(ctx, credential, PrepareOptions{})
	if err != nil {
		return invalid("failed to prepare credential for verification: %v", err)
	}

	for i, proof := range proofs.Proofs() {
		if proof.Challenge != opts.Challenge {
			return invalid("proof %d: challenge mismatch", i)
		}
		if proof.Domain != opts.Domain {
			return invalid("proof %d: domain mismatch", i)
		}
		if proof.VerificationMethod == "" {
			return invalid("proof %d: verification method is missing", i)
		}

		publicKeyHex, err := verificationmethod.ResolveKey(ctx, p.resolver, proof.VerificationMethod)
		if err != nil {
			return invalid("proof %d: %v", i, err)
		}

		signatureType, err := provider.SignatureTypeForProof(proof.Type)
		if err != nil {
			return invalid("proof %d: %v", i, err)
		}
		signatureProvider, err := p.providers.Lookup(signatureType)
		if err != nil {
			return invalid("proof %d: %v", i, err)
		}

		signatureBytes, err := hex.DecodeString(strings.TrimPrefix(proof.ProofValue, "0x"))
		if err != nil {
			return invalid("proof %d: failed to decode proofValue: %v", i, err)
		}

		valid, err := signatureProvider.Verify(ctx, signatureBytes, []byte(prepared.CanonicalForm), publicKeyHex)
		if err != nil {
			return invalid("proof %d: %v", i, err)
		}
		if !valid {
			return invalid("proof %d: signature verification failed", i)
		}
	}

	return VerificationResult{Valid: true}
}
