package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProofTypeJWT is the JOSE typ of an issuance holder-proof JWT.
const ProofTypeJWT = "openid4vci-proof+jwt"

// ProofClaims are the claims of a holder-proof JWT.
type ProofClaims struct {
	Issuer   string
	Audience string
	Nonce    string
	IssuedAt time.Time
}

// BuildProofJWT constructs and signs an openid4vci-proof+jwt bound to
// the key identified by kid.
func BuildProofJWT(privKeyHex, kid string, claims ProofClaims) (string, error) {
	Register()

	mapClaims := jwt.MapClaims{
		"aud": claims.Audience,
		"iat": claims.IssuedAt.Unix(),
	}
	if claims.Issuer != "" {
		mapClaims["iss"] = claims.Issuer
	}
	if claims.Nonce != "" {
		mapClaims["nonce"] = claims.Nonce
	}

	token := jwt.NewWithClaims(ES256K, mapClaims)
	token.Header["typ"] = ProofTypeJWT
	token.Header["kid"] = kid

	signed, err := token.SignedString(privKeyHex)
	if err != nil {
		return "", fmt.Errorf("failed to sign proof JWT: %w", err)
	}
	return signed, nil
}
