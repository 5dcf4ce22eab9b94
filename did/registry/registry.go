// Package registry dispatches DID operations to registered method
// implementations based on the method segment of the DID.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blockialabs/go-ssi-kit/did"
)

var (
	// ErrMethodNotSupported is returned when no implementation is
	// registered for a DID's method segment.
	ErrMethodNotSupported = errors.New("DID method not supported")
	// ErrResolutionFailed is returned when a resolver yields no document.
	ErrResolutionFailed = errors.New("DID resolution failed")
)

// ResolutionResult carries a resolved document with its metadata.
type ResolutionResult struct {
	Document           *did.Document          `json:"didDocument"`
	ResolutionMetadata map[string]interface{} `json:"didResolutionMetadata,omitempty"`
	DocumentMetadata   map[string]interface{} `json:"didDocumentMetadata,omitempty"`
}

// Resolver resolves a DID into a document.
type Resolver interface {
	Resolve(ctx context.Context, didID string) (*ResolutionResult, error)
}

// CreateOptions carries verified key material into a method's Create.
type CreateOptions struct {
	PublicKeyHex string
	KeyID        string
	Document     *did.Document
	Extra        map[string]interface{}
}

// CreateResult is the outcome of a method Create.
type CreateResult struct {
	DID      string
	Document *did.Document
}

// DeactivateResult is the outcome of a method Deactivate.
type DeactivateResult struct {
	Document *did.Document
	Metadata map[string]interface{}
}

// Method is a DID method implementation. Implementations live outside
// this module and are registered at startup.
type Method interface {
	Resolver
	Create(ctx context.Context, opts *CreateOptions) (*CreateResult, error)
	Update(ctx context.Context, didID string, doc *did.Document, opts *CreateOptions) (*did.Document, error)
	Deactivate(ctx context.Context, didID string, opts *CreateOptions) (*DeactivateResult, error)
}

// Registry maps DID method names to implementations. It is populated at
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// New creates an empty method registry.
func New() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds a method implementation under its method name.
func (r *Registry) Register(name string, m Method) error {
	if name == "" {
		return fmt.Errorf("method name is empty")
	}
	if m == nil {
		return fmt.Errorf("method %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = m
	return nil
}

// Method returns the implementation for a DID method name.
func (r *Registry) Method(name string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMethodNotSupported, name)
	}
	return m, nil
}

// MethodFor returns the implementation responsible for a DID string.
func (r *Registry) MethodFor(didID string) (Method, error) {
	segment, err := did.MethodSegment(didID)
	if err != nil {
		return nil, err
	}
	return r.Method(segment)
}

// Resolve dispatches resolution to the DID's method implementation. A
// method returning a nil document fails with ErrResolutionFailed.
func (r *Registry) Resolve(ctx context.Context, didID string) (*ResolutionResult, error) {
	m, err := r.MethodFor(didID)
	if err != nil {
		return nil, err
	}

	result, err := m.Resolve(ctx, didID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DID %q: %w", didID, err)
	}
	if result == nil || result.Document == nil {
		return nil, fmt.Errorf("%w: %q returned no document", ErrResolutionFailed, didID)
	}

	return result, nil
}

// ResolveRepresentation resolves a DID and serializes the document in
// the negotiated content type.
func (r *Registry) ResolveRepresentation(ctx context.Context, didID, contentType string) ([]byte, *ResolutionResult, error) {
	result, err := r.Resolve(ctx, didID)
	if err != nil {
		return nil, nil, err
	}
	data, err := result.Document.Representation(contentType)
	if err != nil {
		return nil, nil, err
	}
	return data, result, nil
}
