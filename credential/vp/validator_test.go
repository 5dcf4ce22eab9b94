package vp

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockialabs/go-ssi-kit/credential/common/crypto"
	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/common/provider"
	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/registry"
)

const holderDID = "did:example:holder"

type docResolver struct {
	doc *did.Document
}

func (r *docResolver) Resolve(ctx context.Context, didID string) (*registry.ResolutionResult, error) {
	return &registry.ResolutionResult{Document: r.doc}, nil
}

func newTestValidator(t *testing.T, pubHex string) *Validator {
	t.Helper()

	doc, err := did.NewBuilder(holderDID).
		AddVerificationMethod(did.VerificationMethod{
			ID:           holderDID + "#key-1",
			Type:         "EcdsaSecp256k1VerificationKey2019",
			Controller:   holderDID,
			PublicKeyHex: pubHex,
		}).
		AddAuthentication(holderDID + "#key-1").
		Seal()
	require.NoError(t, err)

	providers := provider.NewRegistry()
	require.NoError(t, providers.Register(provider.Secp256k1, provider.NewSecp256k1Provider()))

	return NewValidator(&docResolver{doc: doc}, providers)
}

func testPresentation() jsonmap.JSONMap {
	return jsonmap.JSONMap{
		"@context": []interface{}{"https://www.w3.org/ns/credentials/v2"},
		"type":     []interface{}{"VerifiablePresentation"},
		"holder":   holderDID,
		"verifiableCredential": []interface{}{
			map[string]interface{}{
				"id":    "urn:uuid:cred-1",
				"proof": map[string]interface{}{"type": "EcdsaSecp256k1Signature2019"},
			},
		},
	}
}

// signPresentation attaches a holder proof over the proof-free stable
// form of the presentation.
func signPresentation(t *testing.T, presentation jsonmap.JSONMap, privHex, challenge, domain string) {
	t.Helper()

	input, err := presentation.StripProofsRecursive().StableMarshal()
	require.NoError(t, err)

	signature, err := crypto.Sign(crypto.Digest(input), privHex)
	require.NoError(t, err)

	presentation["proof"] = map[string]interface{}{
		"type":               "EcdsaSecp256k1Signature2019",
		"created":            "2024-01-01T00:00:00Z",
		"verificationMethod": holderDID + "#key-1",
		"proofPurpose":       "authentication",
		"proofValue":         hex.EncodeToString(signature),
		"challenge":          challenge,
		"domain":             domain,
	}
}

func TestValidateProofsSuccess(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v := newTestValidator(t, pubHex)

	presentation := testPresentation()
	signPresentation(t, presentation, privHex, "challenge-1", "verifier.example.com")

	errs := v.ValidateProofs(context.Background(), presentation, Expectations{
		Challenge: "challenge-1",
		Domain:    "verifier.example.com",
	})
	assert.Empty(t, errs)
}

func TestValidateProofsRequiresAuthenticationProof(t *testing.T) {
	_, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v := newTestValidator(t, pubHex)

	presentation := testPresentation()
	presentation["proof"] = map[string]interface{}{
		"type":               "EcdsaSecp256k1Signature2019",
		"verificationMethod": holderDID + "#key-1",
		"proofPurpose":       "assertionMethod",
		"proofValue":         "aa",
	}

	errs := v.ValidateProofs(context.Background(), presentation, Expectations{})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoAuthenticationProof)
}

func TestValidateProofsAccumulatesErrors(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v := newTestValidator(t, pubHex)

	presentation := testPresentation()
	signPresentation(t, presentation, privHex, "wrong-challenge", "wrong-domain")

	errs := v.ValidateProofs(context.Background(), presentation, Expectations{
		Challenge: "challenge-1",
		Domain:    "verifier.example.com",
	})
	require.Len(t, errs, 2, "challenge and domain mismatches are both reported")
}

func TestValidateProofsHolderBinding(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v := newTestValidator(t, pubHex)

	presentation := testPresentation()
	presentation["holder"] = "did:example:someone-else"
	signPresentation(t, presentation, privHex, "", "")

	errs := v.ValidateProofs(context.Background(), presentation, Expectations{})
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "does not match proof key owner")
}

func TestValidateProofsTamperedPresentation(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v := newTestValidator(t, pubHex)

	presentation := testPresentation()
	signPresentation(t, presentation, privHex, "", "")
	presentation["type"] = []interface{}{"SomethingElse"}

	errs := v.ValidateProofs(context.Background(), presentation, Expectations{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "signature verification failed")
}

func TestValidateProofsMissingFields(t *testing.T) {
	_, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v := newTestValidator(t, pubHex)

	presentation := testPresentation()
	presentation["proof"] = map[string]interface{}{
		"proofPurpose": "authentication",
	}

	errs := v.ValidateProofs(context.Background(), presentation, Expectations{})
	assert.Len(t, errs, 3, "type, verificationMethod and proofValue are all reported")
}

func TestCredentialsExtraction(t *testing.T) {
	presentation := testPresentation()
	credentials, err := Credentials(presentation)
	require.NoError(t, err)
	require.Len(t, credentials, 1)
	assert.Equal(t, "urn:uuid:cred-1", credentials[0]["id"])

	// A single embedded credential object is accepted.
	presentation["verifiableCredential"] = map[string]interface{}{"id": "urn:uuid:cred-2"}
	credentials, err = Credentials(presentation)
	require.NoError(t, err)
	require.Len(t, credentials, 1)

	delete(presentation, "verifiableCredential")
	credentials, err = Credentials(presentation)
	require.NoError(t, err)
	assert.Empty(t, credentials)

	presentation["verifiableCredential"] = "not a credential"
	_, err = Credentials(presentation)
	assert.Error(t, err)
}
