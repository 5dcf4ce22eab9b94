package openid4vci

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockialabs/go-ssi-kit/credential/common/crypto"
	innerjwt "github.com/blockialabs/go-ssi-kit/credential/common/jwt"
	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/registry"
)

const (
	testAudience  = "https://issuer.example.com"
	testHolderDID = "did:example:holder"
)

type docResolver struct {
	doc *did.Document
}

func (r *docResolver) Resolve(ctx context.Context, didID string) (*registry.ResolutionResult, error) {
	return &registry.ResolutionResult{Document: r.doc}, nil
}

func newHolder(t *testing.T) (privHex string, resolver registry.Resolver) {
	t.Helper()

	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	doc, err := did.NewBuilder(testHolderDID).
		AddVerificationMethod(did.VerificationMethod{
			ID:           testHolderDID + "#key-1",
			Type:         "EcdsaSecp256k1VerificationKey2019",
			Controller:   testHolderDID,
			PublicKeyHex: pubHex,
		}).
		AddAuthentication(testHolderDID + "#key-1").
		Seal()
	require.NoError(t, err)

	return privHex, &docResolver{doc: doc}
}

func buildProof(t *testing.T, privHex, nonce string, issuedAt time.Time) string {
	t.Helper()
	proof, err := innerjwt.BuildProofJWT(privHex, testHolderDID+"#key-1", innerjwt.ProofClaims{
		Issuer:   testHolderDID,
		Audience: testAudience,
		Nonce:    nonce,
		IssuedAt: issuedAt,
	})
	require.NoError(t, err)
	return proof
}

func TestProofValidatorAcceptsValidProof(t *testing.T) {
	privHex, resolver := newHolder(t)
	v := NewProofValidator(resolver, testAudience)

	proof := buildProof(t, privHex, "nonce-1", time.Now())

	validated, err := v.Validate(context.Background(), proof, "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", validated.Claims.Nonce)
	assert.Equal(t, testHolderDID+"#key-1", validated.HolderKid)
	assert.NotEmpty(t, validated.HolderKeyHex)
}

func TestProofValidatorRejectsMalformedJWT(t *testing.T) {
	_, resolver := newHolder(t)
	v := NewProofValidator(resolver, testAudience)

	for _, input := range []string{"", "one.two", "a.b.c.d", "not a jwt"} {
		_, err := v.Validate(context.Background(), input, "")
		assert.ErrorIs(t, err, ErrInvalidProof, "input %q", input)
	}
}

// rebuildSegment swaps one segment of a compact JWT for a re-encoded
// JSON object. The signature no longer matches, but header and claim
// checks run before signature verification.
func rebuildSegment(t *testing.T, jwt string, index int, mutate func(map[string]interface{})) string {
	t.Helper()

	parts := strings.Split(jwt, ".")
	require.Len(t, parts, 3)

	raw, err := base64.RawURLEncoding.DecodeString(parts[index])
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	mutate(m)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	parts[index] = base64.RawURLEncoding.EncodeToString(data)
	return strings.Join(parts, ".")
}

func TestProofValidatorHeaderChecks(t *testing.T) {
	privHex, resolver := newHolder(t)
	v := NewProofValidator(resolver, testAudience)
	proof := buildProof(t, privHex, "nonce-1", time.Now())

	wrongTyp := rebuildSegment(t, proof, 0, func(h map[string]interface{}) { h["typ"] = "JWT" })
	_, err := v.Validate(context.Background(), wrongTyp, "")
	assert.ErrorIs(t, err, ErrInvalidProof)

	algNone := rebuildSegment(t, proof, 0, func(h map[string]interface{}) { h["alg"] = "none" })
	_, err = v.Validate(context.Background(), algNone, "")
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestProofValidatorClaimChecks(t *testing.T) {
	privHex, resolver := newHolder(t)
	now := time.Now()
	v := NewProofValidator(resolver, testAudience, WithProofClock(func() time.Time { return now }))

	tests := []struct {
		name          string
		proof         string
		expectedNonce string
	}{
		{
			name:  "audience mismatch",
			proof: rebuildSegment(t, buildProof(t, privHex, "nonce-1", now), 1, func(c map[string]interface{}) { c["aud"] = "https://other.example.com" }),
		},
		{
			name:          "nonce mismatch",
			proof:         buildProof(t, privHex, "nonce-1", now),
			expectedNonce: "nonce-2",
		},
		{
			name:  "iat too old",
			proof: buildProof(t, privHex, "nonce-1", now.Add(-301*time.Second)),
		},
		{
			name:  "iat too far in the future",
			proof: buildProof(t, privHex, "nonce-1", now.Add(301*time.Second)),
		},
		{
			name:  "iat missing",
			proof: rebuildSegment(t, buildProof(t, privHex, "nonce-1", now), 1, func(c map[string]interface{}) { delete(c, "iat") }),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.proof, tt.expectedNonce)
			assert.ErrorIs(t, err, ErrInvalidProof)
		})
	}
}

func TestProofValidatorIatBoundary(t *testing.T) {
	privHex, resolver := newHolder(t)
	now := time.Unix(1714560000, 0)
	v := NewProofValidator(resolver, testAudience, WithProofClock(func() time.Time { return now }))

	// Exactly 300 seconds of drift is still acceptable.
	proof := buildProof(t, privHex, "nonce-1", now.Add(-300*time.Second))
	_, err := v.Validate(context.Background(), proof, "")
	assert.NoError(t, err)
}

func TestProofValidatorRejectsForgedSignature(t *testing.T) {
	privHex, resolver := newHolder(t)
	otherPrivHex, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	v := NewProofValidator(resolver, testAudience)

	// Signed with a key that does not belong to the resolved kid.
	forged := buildProof(t, otherPrivHex, "nonce-1", time.Now())
	_, err = v.Validate(context.Background(), forged, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// A valid proof with a swapped signature segment fails too.
	good := buildProof(t, privHex, "nonce-1", time.Now())
	bad := buildProof(t, otherPrivHex, "nonce-2", time.Now())
	spliced := strings.Join([]string{
		strings.Split(good, ".")[0],
		strings.Split(good, ".")[1],
		strings.Split(bad, ".")[2],
	}, ".")
	_, err = v.Validate(context.Background(), spliced, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestProofValidatorRequiresResolverForKid(t *testing.T) {
	privHex, _ := newHolder(t)
	v := NewProofValidator(nil, testAudience)

	proof := buildProof(t, privHex, "nonce-1", time.Now())

	// A proof with a kid but no resolver cannot be validated.
	_, err := v.Validate(context.Background(), proof, "")
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestProofValidatorInlineJWK(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	raw, err := hex.DecodeString(pubHex)
	require.NoError(t, err)
	pub, err := secp256k1.ParsePubKey(raw)
	require.NoError(t, err)

	var xBytes, yBytes [32]byte
	pub.X().FillBytes(xBytes[:])
	pub.Y().FillBytes(yBytes[:])

	header := map[string]interface{}{
		"typ": innerjwt.ProofTypeJWT,
		"alg": "ES256K",
		"jwk": map[string]interface{}{
			"kty": "EC",
			"crv": "secp256k1",
			"x":   base64.RawURLEncoding.EncodeToString(xBytes[:]),
			"y":   base64.RawURLEncoding.EncodeToString(yBytes[:]),
		},
	}
	claims := map[string]interface{}{
		"aud":   testAudience,
		"nonce": "nonce-1",
		"iat":   time.Now().Unix(),
	}

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	claimsJSON, err := json.Marshal(claims)
	require.NoError(t, err)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	signature, err := innerjwt.ES256K.Sign(signingInput, privHex)
	require.NoError(t, err)
	proof := signingInput + "." + base64.RawURLEncoding.EncodeToString(signature)

	// No resolver needed: the key travels inline.
	v := NewProofValidator(nil, testAudience)
	validated, err := v.Validate(context.Background(), proof, "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, pubHex, validated.HolderKeyHex)
}
