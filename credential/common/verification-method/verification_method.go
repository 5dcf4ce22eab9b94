// Package verificationmethod resolves verification methods to usable
// key material: it locates a method inside a resolved DID document and
// normalizes its public key representation to compressed hex.
package verificationmethod

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"

	"github.com/blockialabs/go-ssi-kit/did"
	"github.com/blockialabs/go-ssi-kit/did/registry"
)

var (
	// ErrNotFound is returned when a DID document has no verification
	// method matching the requested DID URL.
	ErrNotFound = errors.New("verification method not found")
	// ErrUnsupportedEncoding is returned for multibase encodings other
	// than base58btc.
	ErrUnsupportedEncoding = errors.New("unsupported key encoding")
	// ErrNoKeyMaterial is returned when a method carries no decodable
	// public key.
	ErrNoKeyMaterial = errors.New("verification method has no key material")
)

// multicodec-prefixed keys decode to 35 bytes: 2 prefix bytes followed
// by a 33-byte compressed key.
const multicodecKeyLen = 35

// DecodePublicKeyHex normalizes a verification method's key material to
// hex. Exactly one representation is consulted, in document order of
// preference: hex, multibase, base58, JWK.
func DecodePublicKeyHex(vm *did.VerificationMethod) (string, error) {
	switch {
	case vm.PublicKeyHex != "":
		if len(vm.PublicKeyHex) > 2 && vm.PublicKeyHex[:2] == "0x" {
			return vm.PublicKeyHex[2:], nil
		}
		return vm.PublicKeyHex, nil

	case vm.PublicKeyMultibase != "":
		return decodeMultibase(vm.PublicKeyMultibase)

	case vm.PublicKeyBase58 != "":
		decoded, err := base58.Decode(vm.PublicKeyBase58)
		if err != nil {
			return "", fmt.Errorf("failed to decode base58 key: %w", err)
		}
		return hex.EncodeToString(stripMulticodec(decoded)), nil

	case len(vm.PublicKeyJwk) > 0:
		return DecodeJWKHex(vm.PublicKeyJwk)

	default:
		return "", fmt.Errorf("%w: %q", ErrNoKeyMaterial, vm.ID)
	}
}

func decodeMultibase(encoded string) (string, error) {
	encoding, decoded, err := multibase.Decode(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode multibase key: %w", err)
	}
	if encoding != multibase.Base58BTC {
		return "", fmt.Errorf("%w: multibase prefix %q", ErrUnsupportedEncoding, string(rune(encoding)))
	}
	return hex.EncodeToString(stripMulticodec(decoded)), nil
}

// stripMulticodec removes the 2-byte multicodec prefix from a
// prefix-length key.
func stripMulticodec(key []byte) []byte {
	if len(key) == multicodecKeyLen {
		return key[2:]
	}
	return key
}

// DecodeJWKHex converts a secp256k1 JWK to compressed hex.
func DecodeJWKHex(jwk map[string]interface{}) (string, error) {
	crv, _ := jwk["crv"].(string)
	if crv != "secp256k1" && crv != "P-256K" {
		return "", fmt.Errorf("%w: JWK curve %q", ErrUnsupportedEncoding, crv)
	}

	xs, _ := jwk["x"].(string)
	ys, _ := jwk["y"].(string)
	if xs == "" || ys == "" {
		return "", fmt.Errorf("JWK is missing x or y coordinate")
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xs)
	if err != nil {
		return "", fmt.Errorf("failed to decode JWK x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(ys)
	if err != nil {
		return "", fmt.Errorf("failed to decode JWK y coordinate: %w", err)
	}

	var x, y secp256k1.FieldVal
	if overflow := x.SetByteSlice(xBytes); overflow {
		return "", fmt.Errorf("JWK x coordinate overflows field")
	}
	if overflow := y.SetByteSlice(yBytes); overflow {
		return "", fmt.Errorf("JWK y coordinate overflows field")
	}

	pub := secp256k1.NewPublicKey(&x, &y)
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// PublicKeyForMethod finds the verification method a DID URL points at
// inside a document and returns its key material as hex.
func PublicKeyForMethod(doc *did.Document, didURL string) (string, error) {
	vm := doc.FindVerificationMethod(didURL)
	if vm == nil {
		return "", fmt.Errorf("%w: %q in document %q", ErrNotFound, didURL, doc.ID)
	}
	return DecodePublicKeyHex(vm)
}

// ResolveKey resolves the DID of a verification-method URL and returns
// the method's key material as hex.
func ResolveKey(ctx context.Context, resolver registry.Resolver, didURL string) (string, error) {
	didPart, _, err := did.SplitDIDURL(didURL)
	if err != nil {
		return "", err
	}

	result, err := resolver.Resolve(ctx, didPart)
	if err != nil {
		return "", fmt.Errorf("failed to resolve DID %q: %w", didPart, err)
	}
	if result == nil || result.Document == nil {
		return "", fmt.Errorf("%w: %q", registry.ErrResolutionFailed, didPart)
	}

	return PublicKeyForMethod(result.Document, didURL)
}
