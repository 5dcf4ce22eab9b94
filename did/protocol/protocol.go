// Package protocol implements the two-phase signed-operation protocol
// for DID lifecycle changes. Prepare produces a canonical message for an
// external signer; Complete verifies the returned signature against the
// payload and dispatches to the registered DID method.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockialabs/go-ssi-kit/credential/common/provider"
	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/registry"
)

// DefaultMaxAge bounds the accepted age of a signed payload.
const DefaultMaxAge = 5 * time.Minute

var (
	// ErrMissingPublicKey is returned when prepare is called without key
	// material.
	ErrMissingPublicKey = errors.New("publicKeyHex is required")
	// ErrPayloadExpired is returned when a payload is older than MaxAge.
	ErrPayloadExpired = errors.New("payload has expired")
	// ErrParameterMismatch is returned when decoded payload fields
	// disagree with the completion arguments.
	ErrParameterMismatch = errors.New("payload does not match request parameters")
	// ErrPayloadTampered is returned when the re-serialized payload does
	// not byte-for-byte equal the submitted payload.
	ErrPayloadTampered = errors.New("payload integrity check failed")
	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("signature verification failed")
	// ErrNonceReused is returned when a payload nonce has already been
	// consumed.
	ErrNonceReused = errors.New("payload nonce already used")
)

// NonceRegistry records consumed payload nonces. Consume fails when the
// nonce was already recorded within the retention window.
type NonceRegistry interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}

// Protocol drives prepare/complete for DID create, update and
// deactivate.
type Protocol struct {
	methods   *registry.Registry
	providers *provider.Registry
	nonces    NonceRegistry
	maxAge    time.Duration
	now       func() time.Time
}

// Opt configures a Protocol.
type Opt func(*Protocol)

// WithMaxAge overrides the payload age bound.
func WithMaxAge(maxAge time.Duration) Opt {
	return func(p *Protocol) {
		p.maxAge = maxAge
	}
}

// WithNonceRegistry enables single-use nonce enforcement. Without it,
// replay protection rests on the timestamp window alone.
func WithNonceRegistry(nonces NonceRegistry) Opt {
	return func(p *Protocol) {
		p.nonces = nonces
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Opt {
	return func(p *Protocol) {
		p.now = now
	}
}

// New creates a Protocol over a method registry and signature providers.
func New(methods *registry.Registry, providers *provider.Registry, opts ...Opt) *Protocol {
	p := &Protocol{
		methods:   methods,
		providers: providers,
		maxAge:    DefaultMaxAge,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrepareOptions carries the inputs of a prepare call.
type PrepareOptions struct {
	PublicKeyHex string
	Alg          string
	// OperationData holds operation-specific string fields embedded in
	// the signed payload (for example the target DID of an update).
	OperationData map[string]string
}

// PreparedOperation is the output of Prepare: the canonical message the
// caller must sign, and its base64 form to round-trip into Complete.
type PreparedOperation struct {
	Message           string
	SerializedPayload string
}

// CompleteOptions carries the inputs of a complete call.
type CompleteOptions struct {
	KeyID             string
	PublicKeyHex      string
	Signature         []byte
	SignatureType     provider.SignatureType
	SerializedPayload string
	// Document supplies the new document for update operations.
	Document *did.Document
}

// Result is the outcome of a completed operation. DID and Document are
// set for create and update; Metadata for deactivate.
type Result struct {
	Operation Operation
	DID       string
	Document  *did.Document
	Metadata  map[string]interface{}
}

// Prepare builds a signed-operation payload for the given method and
// operation.
func (p *Protocol) Prepare(_ context.Context, method string, op Operation, opts PrepareOptions) (*PreparedOperation, error) {
	if opts.PublicKeyHex == "" {
		return nil, ErrMissingPublicKey
	}

	alg := opts.Alg
	if alg == "" {
		alg = string(provider.Secp256k1)
	}

	payload := newPayload(method, op, alg, opts.PublicKeyHex, opts.OperationData, p.now())
	message, err := payload.Serialize()
	if err != nil {
		return nil, err
	}
	encoded, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	return &PreparedOperation{
		Message:           string(message),
		SerializedPayload: encoded,
	}, nil
}

// Complete validates a signed payload and dispatches the operation to
// the registered DID method. Validation order: expiry, parameter
// equality, byte-level integrity, nonce consumption, signature.
func (p *Protocol) Complete(ctx context.Context, method string, opts CompleteOptions) (*Result, error) {
	payload, submitted, err := decodePayload(opts.SerializedPayload)
	if err != nil {
		return nil, err
	}

	age, err := payload.age(p.now())
	if err != nil {
		return nil, err
	}
	if age > p.maxAge {
		return nil, fmt.Errorf("%w: payload is %s old, max age %s", ErrPayloadExpired, age, p.maxAge)
	}

	if payload.Method != method {
		return nil, fmt.Errorf("%w: payload method %q, request method %q", ErrParameterMismatch, payload.Method, method)
	}
	if payload.PublicKeyHex != opts.PublicKeyHex {
		return nil, fmt.Errorf("%w: public key differs from payload", ErrParameterMismatch)
	}

	if err := payload.verifyIntegrity(submitted); err != nil {
		return nil, err
	}

	if p.nonces != nil {
		if err := p.nonces.Consume(ctx, payload.Nonce, p.maxAge); err != nil {
			return nil, err
		}
	}

	signatureProvider, err := p.providers.Lookup(opts.SignatureType)
	if err != nil {
		return nil, err
	}

	valid, err := signatureProvider.Verify(ctx, opts.Signature, submitted, opts.PublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	return p.dispatch(ctx, payload, opts)
}

func (p *Protocol) dispatch(ctx context.Context, payload *Payload, opts CompleteOptions) (*Result, error) {
	m, err := p.methods.Method(payload.Method)
	if err != nil {
		return nil, err
	}

	createOpts := &registry.CreateOptions{
		PublicKeyHex: payload.PublicKeyHex,
		KeyID:        opts.KeyID,
		Document:     opts.Document,
		Extra:        extraToMetadata(payload.Extra),
	}

	switch payload.Operation {
	case OperationCreate:
		created, err := m.Create(ctx, createOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create DID: %w", err)
		}
		return &Result{Operation: OperationCreate, DID: created.DID, Document: created.Document}, nil

	case OperationUpdate:
		target := payload.Extra["did"]
		if target == "" {
			return nil, fmt.Errorf("%w: update payload has no target did", ErrParameterMismatch)
		}
		updated, err := m.Update(ctx, target, opts.Document, createOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to update DID %q: %w", target, err)
		}
		return &Result{Operation: OperationUpdate, DID: target, Document: updated}, nil

	case OperationDeactivate:
		target := payload.Extra["did"]
		if target == "" {
			return nil, fmt.Errorf("%w: deactivate payload has no target did", ErrParameterMismatch)
		}
		deactivated, err := m.Deactivate(ctx, target, createOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to deactivate DID %q: %w", target, err)
		}
		return &Result{Operation: OperationDeactivate, DID: target, Document: deactivated.Document, Metadata: deactivated.Metadata}, nil

	default:
		return nil, fmt.Errorf("unknown operation %q", payload.Operation)
	}
}

// Resolve resolves a DID through the method registry.
func (p *Protocol) Resolve(ctx context.Context, didID string) (*registry.ResolutionResult, error) {
	return p.methods.Resolve(ctx, didID)
}

func extraToMetadata(extra map[string]string) map[string]interface{} {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
