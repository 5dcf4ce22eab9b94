// Package signer defines the external signer contract used by
// credential issuance and DID operations, with a local private-key
// implementation and a remote HTTP signing client.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces a signature over a message. The message is signed as
// given; callers hash or canonicalize beforehand.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	PublicKeyHex() string
}

// LocalSigner signs with an in-process secp256k1 private key.
type LocalSigner struct {
	priv *ecdsa.PrivateKey
}

// NewLocalSigner creates a signer from a hex private key.
func NewLocalSigner(privHex string) (*LocalSigner, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{priv: priv}, nil
}

// Sign signs the SHA-256 digest of the message, producing a 65-byte
// [r, s, v] signature.
func (s *LocalSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("message is empty")
	}

	hash := sha256.Sum256(message)
	signature, err := crypto.Sign(hash[:], s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	if len(signature) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}
	return signature, nil
}

// PublicKeyHex returns the compressed public key in hex.
func (s *LocalSigner) PublicKeyHex() string {
	return fmt.Sprintf("%x", crypto.CompressPubkey(&s.priv.PublicKey))
}
