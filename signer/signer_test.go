package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSignerSignAndVerify(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	signer, err := NewLocalSigner(hex.EncodeToString(crypto.FromECDSA(priv)))
	require.NoError(t, err)

	message := []byte("payload to sign")
	sig, err := signer.Sign(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	digest := sha256.Sum256(message)
	pub, err := hex.DecodeString(signer.PublicKeyHex())
	require.NoError(t, err)
	assert.True(t, crypto.VerifySignature(pub, digest[:], sig[:64]))
}

func TestLocalSignerRejectsEmptyMessage(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewLocalSigner(hex.EncodeToString(crypto.FromECDSA(priv)))
	require.NoError(t, err)

	_, err = signer.Sign(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewLocalSignerInvalidKey(t *testing.T) {
	_, err := NewLocalSigner("not-hex")
	assert.Error(t, err)
}

func TestRemoteSignerSign(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("x-api-key"))

		var req struct {
			PayloadHex string `json:"payload_hex"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		digest, err := hex.DecodeString(req.PayloadHex)
		require.NoError(t, err)

		sig, err := crypto.Sign(digest, priv)
		require.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]string{
			"signature_hex": hex.EncodeToString(sig),
		})
	}))
	defer srv.Close()

	signer, err := NewRemoteSigner(srv.URL, "secret", pubHex)
	require.NoError(t, err)
	assert.Equal(t, pubHex, signer.PublicKeyHex())

	message := []byte("remote payload")
	sig, err := signer.Sign(context.Background(), message)
	require.NoError(t, err)

	digest := sha256.Sum256(message)
	pub, err := hex.DecodeString(pubHex)
	require.NoError(t, err)
	assert.True(t, crypto.VerifySignature(pub, digest[:], sig[:64]))
}

func TestRemoteSignerErrors(t *testing.T) {
	t.Run("empty endpoint", func(t *testing.T) {
		_, err := NewRemoteSigner(" ", "", "")
		assert.Error(t, err)
	})

	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		s, err := NewRemoteSigner(srv.URL, "", "")
		require.NoError(t, err)
		_, err = s.Sign(context.Background(), []byte("m"))
		assert.ErrorContains(t, err, "500")
	})

	t.Run("bad signature length", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"signature_hex": "deadbeef"})
		}))
		defer srv.Close()

		s, err := NewRemoteSigner(srv.URL, "", "")
		require.NoError(t, err)
		_, err = s.Sign(context.Background(), []byte("m"))
		assert.ErrorContains(t, err, "invalid signature length")
	})
}
