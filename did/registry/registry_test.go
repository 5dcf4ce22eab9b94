package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockialabs/go-ssi-kit/did"
)

// fakeMethod is a minimal in-memory DID method.
type fakeMethod struct {
	docs map[string]*did.Document
}

func newFakeMethod() *fakeMethod {
	return &fakeMethod{docs: make(map[string]*did.Document)}
}

func (m *fakeMethod) Resolve(ctx context.Context, didID string) (*ResolutionResult, error) {
	doc, ok := m.docs[didID]
	if !ok {
		return &ResolutionResult{}, nil
	}
	return &ResolutionResult{Document: doc}, nil
}

func (m *fakeMethod) Create(ctx context.Context, opts *CreateOptions) (*CreateResult, error) {
	id := fmt.Sprintf("did:fake:%s", opts.PublicKeyHex[:8])
	doc, err := did.NewBuilder(id).
		AddVerificationMethod(did.VerificationMethod{
			ID:           id + "#key-1",
			Type:         "EcdsaSecp256k1VerificationKey2019",
			Controller:   id,
			PublicKeyHex: opts.PublicKeyHex,
		}).
		AddAuthentication(id + "#key-1").
		Seal()
	if err != nil {
		return nil, err
	}
	m.docs[id] = doc
	return &CreateResult{DID: id, Document: doc}, nil
}

func (m *fakeMethod) Update(ctx context.Context, didID string, doc *did.Document, opts *CreateOptions) (*did.Document, error) {
	if _, ok := m.docs[didID]; !ok {
		return nil, fmt.Errorf("unknown DID %q", didID)
	}
	m.docs[didID] = doc
	return doc, nil
}

func (m *fakeMethod) Deactivate(ctx context.Context, didID string, opts *CreateOptions) (*DeactivateResult, error) {
	doc, ok := m.docs[didID]
	if !ok {
		return nil, fmt.Errorf("unknown DID %q", didID)
	}
	delete(m.docs, didID)
	return &DeactivateResult{Document: doc, Metadata: map[string]interface{}{"deactivated": true}}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("fake", newFakeMethod()))

	_, err := r.Method("fake")
	assert.NoError(t, err)

	_, err = r.Method("web")
	assert.ErrorIs(t, err, ErrMethodNotSupported)

	_, err = r.MethodFor("did:fake:123")
	assert.NoError(t, err)

	_, err = r.MethodFor("did:web:example.com")
	assert.ErrorIs(t, err, ErrMethodNotSupported)

	_, err = r.MethodFor("garbage")
	assert.ErrorIs(t, err, did.ErrInvalidDID)

	assert.Error(t, r.Register("", newFakeMethod()))
	assert.Error(t, r.Register("fake", nil))
}

func TestRegistryResolve(t *testing.T) {
	method := newFakeMethod()
	r := New()
	require.NoError(t, r.Register("fake", method))

	created, err := method.Create(context.Background(), &CreateOptions{PublicKeyHex: "02abcdef01"})
	require.NoError(t, err)

	result, err := r.Resolve(context.Background(), created.DID)
	require.NoError(t, err)
	assert.Equal(t, created.DID, result.Document.ID)

	// A method answering with no document is a resolution failure.
	_, err = r.Resolve(context.Background(), "did:fake:unknown")
	assert.ErrorIs(t, err, ErrResolutionFailed)
}

func TestRegistryResolveRepresentation(t *testing.T) {
	method := newFakeMethod()
	r := New()
	require.NoError(t, r.Register("fake", method))

	created, err := method.Create(context.Background(), &CreateOptions{PublicKeyHex: "02abcdef01"})
	require.NoError(t, err)

	data, result, err := r.ResolveRepresentation(context.Background(), created.DID, did.ContentTypeJSON)
	require.NoError(t, err)
	require.NotNil(t, result)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "@context")

	_, _, err = r.ResolveRepresentation(context.Background(), created.DID, "text/plain")
	assert.ErrorIs(t, err, did.ErrUnsupportedContentType)
}
