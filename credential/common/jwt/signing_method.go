// Package jwt provides the ES256K signing method for golang-jwt and
// helpers for building holder-bound proof JWTs.
package jwt

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethodES256K implements ES256K (secp256k1) signing for
// golang-jwt. Signatures are the 64-byte [r, s] form.
type SigningMethodES256K struct{}

// ES256K is the ES256K signing method instance.
var ES256K = &SigningMethodES256K{}

var registerOnce sync.Once

// Register registers ES256K with golang-jwt. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		jwt.RegisterSigningMethod(ES256K.Alg(), func() jwt.SigningMethod {
			return ES256K
		})
	})
}

// Alg returns the algorithm name.
func (m *SigningMethodES256K) Alg() string {
	return "ES256K"
}

// Sign signs a string with a hex private key.
func (m *SigningMethodES256K) Sign(signingString string, key interface{}) ([]byte, error) {
	privKeyHex, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("invalid key type: expected hex private key string")
	}

	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	hash := sha256.Sum256([]byte(signingString))
	sig, err := crypto.Sign(hash[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	// R and S only, excluding the recovery byte.
	return sig[:64], nil
}

// Verify verifies a 64-byte signature against an ECDSA public key.
func (m *SigningMethodES256K) Verify(signingString string, signature []byte, key interface{}) error {
	publicKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("invalid key type: expected *ecdsa.PublicKey")
	}

	if len(signature) != 64 {
		return fmt.Errorf("invalid signature length: %d", len(signature))
	}

	hash := sha256.Sum256([]byte(signingString))
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])

	if !ecdsa.Verify(publicKey, hash[:], r, s) {
		return fmt.Errorf("signature verification failed")
	}

	return nil
}

// HexToECDSAPublicKey converts a hex public key, compressed or
// uncompressed, to an ECDSA public key.
func HexToECDSAPublicKey(publicKeyHex string) (*ecdsa.PublicKey, error) {
	publicKeyHex = strings.TrimPrefix(publicKeyHex, "0x")

	publicKeyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}

	switch {
	case len(publicKeyBytes) == 33 && (publicKeyBytes[0] == 0x02 || publicKeyBytes[0] == 0x03):
		return crypto.DecompressPubkey(publicKeyBytes)
	case len(publicKeyBytes) == 65 && publicKeyBytes[0] == 0x04:
		return crypto.UnmarshalPubkey(publicKeyBytes)
	default:
		return nil, fmt.Errorf("unsupported public key format")
	}
}
