package openid4vci

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	innerjwt "github.com/blockialabs/go-ssi-kit/credential/common/jwt"
	verificationmethod "github.com/blockialabs/go-ssi-kit/credential/common/verification-method"
	"github.com/blockialabs/go-ssi-kit/did/registry"
)

var (
	// ErrInvalidProof marks a malformed or semantically invalid holder
	// proof.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrInvalidSignature marks a proof whose signature does not verify
	// against the resolved key.
	ErrInvalidSignature = errors.New("invalid proof signature")
)

// iatWindow is how far a proof's iat claim may drift from current time
// in either direction.
const iatWindow = 300 * time.Second

// ProofHeader is the decoded JOSE header of a holder-proof JWT.
type ProofHeader struct {
	Typ string                 `json:"typ"`
	Alg string                 `json:"alg"`
	Kid string                 `json:"kid,omitempty"`
	Jwk map[string]interface{} `json:"jwk,omitempty"`
}

// ProofClaims are the validated claims of a holder-proof JWT.
type ProofClaims struct {
	Issuer   string  `json:"iss,omitempty"`
	Audience string  `json:"aud"`
	Nonce    string  `json:"nonce,omitempty"`
	IssuedAt float64 `json:"iat"`
}

// ValidatedProof is the outcome of a successful proof validation.
type ValidatedProof struct {
	Header       ProofHeader
	Claims       ProofClaims
	HolderKeyHex string
	HolderKid    string
}

// ProofValidator validates openid4vci-proof+jwt holder proofs.
type ProofValidator struct {
	resolver registry.Resolver
	audience string
	now      func() time.Time
}

// ProofValidatorOption configures a ProofValidator.
type ProofValidatorOption func(*ProofValidator)

// WithProofClock overrides the time source.
func WithProofClock(now func() time.Time) ProofValidatorOption {
	return func(v *ProofValidator) { v.now = now }
}

// NewProofValidator creates a validator expecting proofs audience-bound
// to audience. The resolver is consulted for kid-referenced keys and may
// be nil when all proofs carry inline JWKs.
func NewProofValidator(resolver registry.Resolver, audience string, opts ...ProofValidatorOption) *ProofValidator {
	v := &ProofValidator{
		resolver: resolver,
		audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks a compact holder-proof JWT. expectedNonce, when
// non-empty, must match the proof's nonce claim.
func (v *ProofValidator) Validate(ctx context.Context, proofJWT, expectedNonce string) (*ValidatedProof, error) {
	parts := strings.Split(proofJWT, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 JWT segments, got %d", ErrInvalidProof, len(parts))
	}

	header, err := decodeProofHeader(parts[0])
	if err != nil {
		return nil, err
	}
	claims, err := v.validateClaims(parts[1], expectedNonce)
	if err != nil {
		return nil, err
	}

	keyHex, err := v.resolveProofKey(ctx, header)
	if err != nil {
		return nil, err
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode signature: %v", ErrInvalidProof, err)
	}
	publicKey, err := innerjwt.HexToECDSAPublicKey(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	signingInput := parts[0] + "." + parts[1]
	if err := innerjwt.ES256K.Verify(signingInput, signature, publicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return &ValidatedProof{
		Header:       *header,
		Claims:       *claims,
		HolderKeyHex: keyHex,
		HolderKid:    header.Kid,
	}, nil
}

func decodeProofHeader(encoded string) (*ProofHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode header: %v", ErrInvalidProof, err)
	}

	var header ProofHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to parse header: %v", ErrInvalidProof, err)
	}

	if header.Typ != innerjwt.ProofTypeJWT {
		return nil, fmt.Errorf("%w: unexpected typ %q", ErrInvalidProof, header.Typ)
	}
	if header.Alg == "" || strings.EqualFold(header.Alg, "none") {
		return nil, fmt.Errorf("%w: alg %q is not acceptable", ErrInvalidProof, header.Alg)
	}
	return &header, nil
}

func (v *ProofValidator) validateClaims(encoded, expectedNonce string) (*ProofClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %v", ErrInvalidProof, err)
	}

	var claims ProofClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidProof, err)
	}

	if claims.Audience != v.audience {
		return nil, fmt.Errorf("%w: audience %q does not match %q", ErrInvalidProof, claims.Audience, v.audience)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidProof)
	}
	if claims.IssuedAt == 0 {
		return nil, fmt.Errorf("%w: iat claim is required", ErrInvalidProof)
	}

	issuedAt := time.Unix(int64(claims.IssuedAt), 0)
	drift := v.now().Sub(issuedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > iatWindow {
		return nil, fmt.Errorf("%w: iat outside acceptance window", ErrInvalidProof)
	}
	return &claims, nil
}

// resolveProofKey extracts the holder key, preferring an inline JWK and
// falling back to resolving a DID-URL kid.
func (v *ProofValidator) resolveProofKey(ctx context.Context, header *ProofHeader) (string, error) {
	if len(header.Jwk) > 0 {
		keyHex, err := verificationmethod.DecodeJWKHex(header.Jwk)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		return keyHex, nil
	}

	if header.Kid == "" {
		return "", fmt.Errorf("%w: proof carries neither jwk nor kid", ErrInvalidProof)
	}
	if v.resolver == nil {
		return "", fmt.Errorf("%w: kid %q requires a resolver", ErrInvalidProof, header.Kid)
	}

	keyHex, err := verificationmethod.ResolveKey(ctx, v.resolver, header.Kid)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return keyHex, nil
}
