package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/blockialabs/go-ssi-kit/credential/common/crypto"
	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	innerjwt "github.com/blockialabs/go-ssi-kit/credential/common/jwt"
	"github.com/blockialabs/go-ssi-kit/credential/common/provider"
	"github.com/blockialabs/go-ssi-kit/credential/vc"
	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/protocol"
	"github.com/blockialabs/go-ssi-kit/did/registry"
	"github.com/blockialabs/go-ssi-kit/openid4vci"
	"github.com/blockialabs/go-ssi-kit/signer"
	"github.com/blockialabs/go-ssi-kit/storage"
)

// Example walkthrough: create a DID through the two-phase protocol,
// issue and verify a credential, then drive a deferred issuance session.

const issuerAudience = "https://issuer.example.com"

func main() {
	ctx := context.Background()

	fmt.Println("-- Example 1: DID create via prepare/complete --")
	env := newEnvironment()
	issuerDID := createDIDExample(ctx, env)

	fmt.Println("\n-- Example 2: Issue and verify a credential --")
	issued := issueCredentialExample(ctx, env, issuerDID)

	fmt.Println("\n-- Example 3: Deferred issuance session --")
	deferredIssuanceExample(ctx, env, issuerDID, issued)
}

type environment struct {
	methods    *registry.Registry
	providers  *provider.Registry
	protocol   *protocol.Protocol
	processor  *vc.Processor
	issuerPriv string
	issuerPub  string
}

func newEnvironment() *environment {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	if err != nil {
		log.Fatalf("Failed to generate issuer keys: %v", err)
	}

	methods := registry.New()
	if err := methods.Register("mem", newMemMethod()); err != nil {
		log.Fatalf("Failed to register DID method: %v", err)
	}

	providers := provider.NewRegistry()
	if err := providers.Register(provider.Secp256k1, provider.NewSecp256k1Provider()); err != nil {
		log.Fatalf("Failed to register signature provider: %v", err)
	}

	nonces := protocol.NewStoreNonceRegistry(storage.NewMemStore())
	return &environment{
		methods:   methods,
		providers: providers,
		protocol:  protocol.New(methods, providers, protocol.WithNonceRegistry(nonces)),
		processor: vc.NewProcessor(providers, methods, vc.WithFormatHandler(vc.FormatLDP, stableHandler{})),
		issuerPriv: privHex,
		issuerPub:  pubHex,
	}
}

func createDIDExample(ctx context.Context, env *environment) string {
	prepared, err := env.protocol.Prepare(ctx, "mem", protocol.OperationCreate, protocol.PrepareOptions{
		PublicKeyHex: env.issuerPub,
	})
	if err != nil {
		log.Fatalf("Failed to prepare DID operation: %v", err)
	}

	// The message travels to an external signer; here we sign locally.
	signature, err := crypto.Sign(crypto.Digest([]byte(prepared.Message)), env.issuerPriv)
	if err != nil {
		log.Fatalf("Failed to sign payload: %v", err)
	}

	result, err := env.protocol.Complete(ctx, "mem", protocol.CompleteOptions{
		PublicKeyHex:      env.issuerPub,
		Signature:         signature,
		SignatureType:     provider.Secp256k1,
		SerializedPayload: prepared.SerializedPayload,
	})
	if err != nil {
		log.Fatalf("Failed to complete DID operation: %v", err)
	}

	printJSON("DID document", result.Document)
	return result.DID
}

func issueCredentialExample(ctx context.Context, env *environment, issuerDID string) jsonmap.JSONMap {
	credential := jsonmap.JSONMap{
		"@context": []interface{}{"https://www.w3.org/ns/credentials/v2"},
		"id":       "urn:uuid:demo-credential",
		"type":     []interface{}{"VerifiableCredential"},
		"issuer":   issuerDID,
		"credentialSubject": map[string]interface{}{
			"id":   "did:example:subject",
			"name": "Alice",
		},
	}

	localSigner, err := signer.NewLocalSigner(env.issuerPriv)
	if err != nil {
		log.Fatalf("Failed to build signer: %v", err)
	}

	issued, err := env.processor.Issue(ctx, credential, localSigner, vc.IssueOptions{
		Complete: vc.CompleteOptions{VerificationMethod: issuerDID + "#key-1"},
	})
	if err != nil {
		log.Fatalf("Failed to issue credential: %v", err)
	}
	printJSON("Issued credential", issued)

	result := env.processor.Verify(ctx, issued, vc.VerifyOptions{})
	fmt.Printf("Verification result: valid=%t reason=%q\n", result.Valid, result.Reason)
	return issued
}

func deferredIssuanceExample(ctx context.Context, env *environment, issuerDID string, _ jsonmap.JSONMap) {
	holderPriv, holderPub, err := crypto.GenerateKeyPair()
	if err != nil {
		log.Fatalf("Failed to generate holder keys: %v", err)
	}
	holderDID := registerHolder(ctx, env, holderPub)

	manager := openid4vci.NewManager(
		openid4vci.NewMemSessionStore(),
		openid4vci.NewCNonceStore(storage.NewMemStore()),
		env.processor,
		openid4vci.NewProofValidator(env.methods, issuerAudience),
	)

	_, offer, nonce, err := manager.CreateOffer(ctx, issuerDID, openid4vci.OfferOptions{})
	if err != nil {
		log.Fatalf("Failed to create offer: %v", err)
	}
	fmt.Printf("Offer pre-authorized code: %s\n", offer.PreAuthorizedCode)

	proofJWT, err := innerjwt.BuildProofJWT(holderPriv, holderDID+"#key-1", innerjwt.ProofClaims{
		Issuer:   holderDID,
		Audience: issuerAudience,
		Nonce:    nonce.CNonce,
		IssuedAt: time.Now(),
	})
	if err != nil {
		log.Fatalf("Failed to build holder proof: %v", err)
	}

	request, err := manager.HandleCredentialRequest(ctx, openid4vci.CredentialRequest{
		ProofJWT: proofJWT,
		Credential: jsonmap.JSONMap{
			"@context": []interface{}{"https://www.w3.org/ns/credentials/v2"},
			"id":       "urn:uuid:deferred-credential",
			"type":     []interface{}{"VerifiableCredential"},
			"issuer":   issuerDID,
			"credentialSubject": map[string]interface{}{
				"id": holderDID,
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to handle credential request: %v", err)
	}
	fmt.Printf("Request deferred with transaction id %s\n", request.TransactionID)

	issuerSigner, err := signer.NewLocalSigner(env.issuerPriv)
	if err != nil {
		log.Fatalf("Failed to build issuer signer: %v", err)
	}
	if _, err := manager.ApproveIssuance(ctx, request.TransactionID, issuerSigner, openid4vci.ApproveOptions{
		VerificationMethod: issuerDID + "#key-1",
	}); err != nil {
		log.Fatalf("Failed to approve issuance: %v", err)
	}

	response, err := manager.CheckDeferredStatus(ctx, request.TransactionID)
	if err != nil {
		log.Fatalf("Failed to check deferred status: %v", err)
	}
	printJSON("Delivered credential", response.Credential)
}

func printJSON(label string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal %s: %v", label, err)
	}
	fmt.Printf("%s:\n%s\n", label, data)
}

// stableHandler canonicalizes by deterministic JSON so the example runs
// offline, without fetching JSON-LD contexts.
type stableHandler struct{}

func (stableHandler) Canonicalize(_ context.Context, credential jsonmap.JSONMap) (string, error) {
	data, err := credential.StableMarshal()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// memMethod keeps DID documents in memory.
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
	id := "did:mem:" + opts.PublicKeyHex[:16]
	doc, err := buildKeyDocument(id, opts.PublicKeyHex)
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
	return &registry.DeactivateResult{Document: doc}, nil
}

func buildKeyDocument(id, publicKeyHex string) (*did.Document, error) {
	return did.NewBuilder(id).
		AddVerificationMethod(did.VerificationMethod{
			ID:           id + "#key-1",
			Type:         "EcdsaSecp256k1VerificationKey2019",
			Controller:   id,
			PublicKeyHex: publicKeyHex,
		}).
		AddAuthentication(id + "#key-1").
		AddAssertionMethod(id + "#key-1").
		Seal()
}

func registerHolder(ctx context.Context, env *environment, publicKeyHex string) string {
	method, err := env.methods.Method("mem")
	if err != nil {
		log.Fatalf("Failed to look up DID method: %v", err)
	}
	created, err := method.Create(ctx, &registry.CreateOptions{PublicKeyHex: publicKeyHex})
	if err != nil {
		log.Fatalf("Failed to register holder DID: %v", err)
	}
	return created.DID
}
