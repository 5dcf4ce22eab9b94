package provider

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/blockialabs/go-ssi-kit/credential/common/crypto"
)

// JsonWebKeyProvider signs and verifies ES256K-style signatures: a
// 64-byte [r, s] signature over the SHA-256 digest of the message, the
// form used by JWS and openid4vci proof JWTs.
type JsonWebKeyProvider struct{}

// NewJsonWebKeyProvider creates a JsonWebKey signature provider.
func NewJsonWebKeyProvider() *JsonWebKeyProvider {
	return &JsonWebKeyProvider{}
}

// Sign signs the SHA-256 digest of message, returning the 64-byte [r, s]
// signature without a recovery byte.
func (p *JsonWebKeyProvider) Sign(_ context.Context, message []byte, keyRef string) ([]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("message is empty")
	}
	sig, err := crypto.Sign(crypto.Digest(message), keyRef)
	if err != nil {
		return nil, err
	}
	return sig[:64], nil
}

// Verify checks a 64- or 65-byte signature over the SHA-256 digest of
// message against a hex-encoded public key.
func (p *JsonWebKeyProvider) Verify(_ context.Context, signature, message []byte, publicKeyHex string) (bool, error) {
	if len(message) == 0 {
		return false, fmt.Errorf("message is empty")
	}
	return crypto.VerifySignature(publicKeyHex, hex.EncodeToString(signature), crypto.Digest(message))
}
