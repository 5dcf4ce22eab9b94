package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SignatureType identifies a supported signature algorithm. The set is
// closed: registries reject tags outside this list at configuration time.
type SignatureType string

const (
	Secp256k1  SignatureType = "Secp256k1"
	JsonWebKey SignatureType = "JsonWebKey"
)

var (
	// ErrUnknownProvider is returned when no provider is registered for
	// a signature type.
	ErrUnknownProvider = errors.New("no signature provider registered")
	// ErrUnknownSignatureType is returned when registering a provider
	// under a tag outside the supported set.
	ErrUnknownSignatureType = errors.New("unknown signature type")
	// ErrUnsupportedProofType is returned when a proof type has no
	// mapping to a signature type.
	ErrUnsupportedProofType = errors.New("unsupported proof type")
)

// SignatureProvider signs and verifies messages for one algorithm.
// keyRef identifies the signing key to the provider; its format is
// provider-specific (a hex private key for the local provider, a key id
// for remote signers).
type SignatureProvider interface {
	Sign(ctx context.Context, message []byte, keyRef string) ([]byte, error)
	Verify(ctx context.Context, signature, message []byte, publicKeyHex string) (bool, error)
}

// proofTypeSignatures is the exhaustive proof-type to signature-type
// mapping. Unlisted proof types are rejected, never inferred.
var proofTypeSignatures = map[string]SignatureType{
	"EcdsaSecp256k1Signature2019":         Secp256k1,
	"EcdsaSecp256k1RecoverySignature2020": Secp256k1,
	"DataIntegrityProof":                  Secp256k1,
	"JsonWebSignature2020":                JsonWebKey,
	"JsonWebKey2020":                      JsonWebKey,
}

// SignatureTypeForProof maps a proof type to its signature algorithm.
func SignatureTypeForProof(proofType string) (SignatureType, error) {
	st, ok := proofTypeSignatures[proofType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProofType, proofType)
	}
	return st, nil
}

// supportedTypes is the closed set of registrable signature types.
var supportedTypes = map[SignatureType]struct{}{
	Secp256k1:  {},
	JsonWebKey: {},
}

// Registry maps signature types to providers. It is populated at startup
// and read-mostly afterwards; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[SignatureType]SignatureProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[SignatureType]SignatureProvider)}
}

// Register adds a provider for a signature type. Tags outside the
// supported set fail immediately rather than at first use.
func (r *Registry) Register(t SignatureType, p SignatureProvider) error {
	if _, ok := supportedTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSignatureType, t)
	}
	if p == nil {
		return fmt.Errorf("signature provider for %q is nil", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[t] = p
	return nil
}

// Lookup returns the provider for a signature type.
func (r *Registry) Lookup(t SignatureType) (SignatureProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w for type %q", ErrUnknownProvider, t)
	}
	return p, nil
}
