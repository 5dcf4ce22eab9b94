package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest computes the SHA-256 digest of a message.
func Digest(message []byte) []byte {
	hash := sha256.Sum256(message)
	return hash[:]
}

// Sign signs a digest using ECDSA with secp256k1, producing a 65-byte
// [r, s, v] signature.
func Sign(digest []byte, hexPrivateKey string) ([]byte, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ecdsa: invalid private key: %w", err)
	}

	signature, err := crypto.Sign(digest, privKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa: sign error: %w", err)
	}

	if len(signature) != 65 {
		return nil, fmt.Errorf("ecdsa: invalid signature length, expected 65 bytes")
	}

	return signature, nil
}

// VerifySignature verifies a secp256k1 signature over a digest.
// The public key may be compressed (33 bytes) or uncompressed (65 bytes),
// the signature 64 bytes ([r, s]) or 65 bytes ([r, s, v]).
func VerifySignature(publicKeyHex, signatureHex string, digest []byte) (bool, error) {
	pubKey, err := ParsePublicKeyHex(publicKeyHex)
	if err != nil {
		return false, err
	}

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}

	var rsBytes []byte
	switch len(sigBytes) {
	case 65:
		rsBytes = sigBytes[:64]
	case 64:
		rsBytes = sigBytes
	default:
		return false, fmt.Errorf("invalid signature length: got %d, want 64 or 65 bytes", len(sigBytes))
	}

	r := new(big.Int).SetBytes(rsBytes[:32])
	s := new(big.Int).SetBytes(rsBytes[32:])

	return ecdsa.Verify(pubKey, digest, r, s), nil
}

// ParsePublicKeyHex parses a hex-encoded secp256k1 public key,
// decompressing it when necessary.
func ParsePublicKeyHex(publicKeyHex string) (*ecdsa.PublicKey, error) {
	pubKeyBytes, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(pubKeyBytes) == 0 {
		return nil, fmt.Errorf("public key is empty")
	}

	if pubKeyBytes[0] == 0x02 || pubKeyBytes[0] == 0x03 {
		pubKeyParsed, err := btcec.ParsePubKey(pubKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse compressed public key: %w", err)
		}
		pubKeyBytes = pubKeyParsed.SerializeUncompressed()
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return pubKey, nil
}

// GenerateKeyPair generates a fresh secp256k1 key pair and returns the
// private key and compressed public key, both hex encoded.
func GenerateKeyPair() (privHex, pubHex string, err error) {
	priv, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}
	privHex = hex.EncodeToString(crypto.FromECDSA(priv))
	pubHex = hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
	return privHex, pubHex, nil
}

// VerifyKeyPair reports whether a private key and public key belong to
// the same key pair.
func VerifyKeyPair(privateKey *ecdsa.PrivateKey, publicKey *ecdsa.PublicKey) bool {
	derived := &privateKey.PublicKey
	return derived.X.Cmp(publicKey.X) == 0 && derived.Y.Cmp(publicKey.Y) == 0
}

// VerifyKeyPairFromHex reports whether a hex private key matches a hex
// public key.
func VerifyKeyPairFromHex(privateKeyHex, publicKeyHex string) (bool, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return false, fmt.Errorf("failed to convert private key hex: %w", err)
	}

	publicKey, err := ParsePublicKeyHex(publicKeyHex)
	if err != nil {
		return false, err
	}

	return VerifyKeyPair(privateKey, publicKey), nil
}

// CompressedPublicKeyHex returns the compressed hex form of a public key.
func CompressedPublicKeyHex(publicKey *ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.CompressPubkey(publicKey))
}
