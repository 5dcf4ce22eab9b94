package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockialabs/go-ssi-kit/credential/common/crypto"
	"github.com/blockialabs/go-ssi-kit/credential/common/provider"
	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/registry"
	"github.com/blockialabs/go-ssi-kit/storage"
)

// memMethod stores DID documents in memory, keyed by DID.
type memMethod struct {
	docs map[string]*did.Document
}

func newMemMethod() *memMethod {
	return &memMethod{docs: make(map[string]*did.Document)}
}

func (m *memMethod) Resolve(ctx context.Context, didID string) (*registry.ResolutionResult, error) {
	doc, ok := m.docs[didID]
	if !ok {
		return nil, fmt.Errorf("unknown DID %q", didID)
	}
	return &registry.ResolutionResult{Document: doc}, nil
}

func (m *memMethod) Create(ctx context.Context, opts *registry.CreateOptions) (*registry.CreateResult, error) {
	id := "did:mem:" + opts.PublicKeyHex[:10]
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
	return &registry.CreateResult{DID: id, Document: doc}, nil
}

func (m *memMethod) Update(ctx context.Context, didID string, doc *did.Document, opts *registry.CreateOptions) (*did.Document, error) {
	if _, ok := m.docs[didID]; !ok {
		return nil, fmt.Errorf("unknown DID %q", didID)
	}
	m.docs[didID] = doc
	return doc, nil
}

func (m *memMethod) Deactivate(ctx context.Context, didID string, opts *registry.CreateOptions) (*registry.DeactivateResult, error) {
	doc, ok := m.docs[didID]
	if !ok {
		return nil, fmt.Errorf("unknown DID %q", didID)
	}
	delete(m.docs, didID)
	return &registry.DeactivateResult{Document: doc, Metadata: map[string]interface{}{"deactivated": "true"}}, nil
}

func newTestProtocol(t *testing.T, opts ...Opt) *Protocol {
	t.Helper()

	methods := registry.New()
	require.NoError(t, methods.Register("mem", newMemMethod()))

	providers := provider.NewRegistry()
	require.NoError(t, providers.Register(provider.Secp256k1, provider.NewSecp256k1Provider()))

	return New(methods, providers, opts...)
}

func signPayload(t *testing.T, message, privHex string) []byte {
	t.Helper()
	signature, err := crypto.Sign(crypto.Digest([]byte(message)), privHex)
	require.NoError(t, err)
	return signature
}

func TestPrepareRequiresPublicKey(t *testing.T) {
	p := newTestProtocol(t)
	_, err := p.Prepare(context.Background(), "mem", OperationCreate, PrepareOptions{})
	assert.ErrorIs(t, err, ErrMissingPublicKey)
}

func TestPrepareCompleteCreate(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p := newTestProtocol(t)
	ctx := context.Background()

	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)
	assert.NotEmpty(t, prepared.Message)

	decoded, err := base64.StdEncoding.DecodeString(prepared.SerializedPayload)
	require.NoError(t, err)
	assert.Equal(t, prepared.Message, string(decoded))

	result, err := p.Complete(ctx, "mem", CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signPayload(t, prepared.Message, privHex),
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
	})
	require.NoError(t, err)
	assert.Equal(t, OperationCreate, result.Operation)
	assert.NotEmpty(t, result.DID)
	require.NotNil(t, result.Document)

	resolved, err := p.Resolve(ctx, result.DID)
	require.NoError(t, err)
	assert.Equal(t, result.DID, resolved.Document.ID)
}

func TestCompleteUpdateAndDeactivate(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p := newTestProtocol(t)
	ctx := context.Background()

	// Create first.
	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)
	created, err := p.Complete(ctx, "mem", CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signPayload(t, prepared.Message, privHex),
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
	})
	require.NoError(t, err)

	// Update with a new document.
	newDoc, err := did.NewBuilder(created.DID).
		AddVerificationMethod(did.VerificationMethod{
			ID:           created.DID + "#key-2",
			Type:         "EcdsaSecp256k1VerificationKey2019",
			Controller:   created.DID,
			PublicKeyHex: pubHex,
		}).
		Seal()
	require.NoError(t, err)

	prepared, err = p.Prepare(ctx, "mem", OperationUpdate, PrepareOptions{
		PublicKeyHex:  pubHex,
		OperationData: map[string]string{"did": created.DID},
	})
	require.NoError(t, err)

	updated, err := p.Complete(ctx, "mem", CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signPayload(t, prepared.Message, privHex),
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
		Document:          newDoc,
	})
	require.NoError(t, err)
	assert.Equal(t, created.DID, updated.DID)
	assert.Equal(t, "did:mem", updated.Document.ID[:7])

	// Deactivate.
	prepared, err = p.Prepare(ctx, "mem", OperationDeactivate, PrepareOptions{
		PublicKeyHex:  pubHex,
		OperationData: map[string]string{"did": created.DID},
	})
	require.NoError(t, err)

	deactivated, err := p.Complete(ctx, "mem", CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signPayload(t, prepared.Message, privHex),
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
	})
	require.NoError(t, err)
	assert.Equal(t, OperationDeactivate, deactivated.Operation)

	_, err = p.Resolve(ctx, created.DID)
	assert.Error(t, err)
}

func TestCompleteRejectsTamperedPayload(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p := newTestProtocol(t)
	ctx := context.Background()

	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)
	signature := signPayload(t, prepared.Message, privHex)

	// Equivalent JSON with different byte layout must fail the
	// byte-level integrity check even though every field value matches.
	var fields map[string]string
	require.NoError(t, json.Unmarshal([]byte(prepared.Message), &fields))
	spaced, err := json.MarshalIndent(fields, "", "  ")
	require.NoError(t, err)

	_, err = p.Complete(ctx, "mem", CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signature,
		SignatureType:     provider.Secp256k1,
		SerializedPayload: base64.StdEncoding.EncodeToString(spaced),
	})
	assert.ErrorIs(t, err, ErrPayloadTampered)
}

func TestCompleteRejectsMutatedFields(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, otherPubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p := newTestProtocol(t)
	ctx := context.Background()

	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)
	signature := signPayload(t, prepared.Message, privHex)

	mutate := func(field, value string) string {
		var fields map[string]string
		require.NoError(t, json.Unmarshal([]byte(prepared.Message), &fields))
		fields[field] = value
		data, err := json.Marshal(fields)
		require.NoError(t, err)
		return base64.StdEncoding.EncodeToString(data)
	}

	tests := []struct {
		name    string
		method  string
		payload string
		wantErr error
	}{
		{
			// The mutated payload is still canonical JSON, so only the
			// signature check can catch the change.
			name:    "operation swapped to deactivate",
			method:  "mem",
			payload: mutate("operation", string(OperationDeactivate)),
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "public key swapped in payload",
			method:  "mem",
			payload: mutate("publicKeyHex", otherPubHex),
			wantErr: ErrParameterMismatch,
		},
		{
			name:    "request method differs from payload",
			method:  "other",
			payload: prepared.SerializedPayload,
			wantErr: ErrParameterMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Complete(ctx, tt.method, CompleteOptions{
				PublicKeyHex:      pubHex,
				Signature:         signature,
				SignatureType:     provider.Secp256k1,
				SerializedPayload: tt.payload,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompleteRejectsExpiredPayload(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	prepareTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := prepareTime

	p := newTestProtocol(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)
	signature := signPayload(t, prepared.Message, privHex)

	complete := func() error {
		_, err := p.Complete(ctx, "mem", CompleteOptions{
			PublicKeyHex:      pubHex,
			Signature:         signature,
			SignatureType:     provider.Secp256k1,
			SerializedPayload: prepared.SerializedPayload,
		})
		return err
	}

	// One second past the max age is rejected.
	clock = prepareTime.Add(DefaultMaxAge + time.Second)
	assert.ErrorIs(t, complete(), ErrPayloadExpired)

	// Exactly at the boundary is still accepted.
	clock = prepareTime.Add(DefaultMaxAge)
	assert.NoError(t, complete())
}

func TestCompleteEnforcesSingleUseNonce(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	nonces := NewStoreNonceRegistry(storage.NewMemStore())
	p := newTestProtocol(t, WithNonceRegistry(nonces))
	ctx := context.Background()

	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)
	signature := signPayload(t, prepared.Message, privHex)

	opts := CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signature,
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
	}

	_, err = p.Complete(ctx, "mem", opts)
	require.NoError(t, err)

	_, err = p.Complete(ctx, "mem", opts)
	assert.ErrorIs(t, err, ErrNonceReused)
}

func TestCompleteRejectsBadSignature(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p := newTestProtocol(t)
	ctx := context.Background()

	prepared, err := p.Prepare(ctx, "mem", OperationCreate, PrepareOptions{PublicKeyHex: pubHex})
	require.NoError(t, err)

	signature := signPayload(t, prepared.Message+" tampered", privHex)
	_, err = p.Complete(ctx, "mem", CompleteOptions{
		PublicKeyHex:      pubHex,
		Signature:         signature,
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
	})
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}
