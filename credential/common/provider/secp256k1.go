package provider

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/blockialabs/go-ssi-kit/credential/common/crypto"
)

// Secp256k1Provider signs and verifies secp256k1 signatures over the
// SHA-256 digest of the message. Signatures are 65-byte [r, s, v];
// verification also accepts the 64-byte [r, s] form.
type Secp256k1Provider struct{}

// NewSecp256k1Provider creates a secp256k1 signature provider.
func NewSecp256k1Provider() *Secp256k1Provider {
	return &Secp256k1Provider{}
}

// Sign signs the SHA-256 digest of message with the private key given as
// keyRef in hex form.
func (p *Secp256k1Provider) Sign(_ context.Context, message []byte, keyRef string) ([]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("message is empty")
	}
	digest := crypto.Digest(message)
	return crypto.Sign(digest, keyRef)
}

// Verify checks a signature over the SHA-256 digest of message against a
// hex-encoded public key.
func (p *Secp256k1Provider) Verify(_ context.Context, signature, message []byte, publicKeyHex string) (bool, error) {
	if len(message) == 0 {
		return false, fmt.Errorf("message is empty")
	}
	digest := crypto.Digest(message)
	return crypto.VerifySignature(publicKeyHex, hex.EncodeToString(signature), digest)
}
