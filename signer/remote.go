package signer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RemoteSigner signs through a remote signing service. The service
// receives the SHA-256 digest of the message and returns a 65-byte
// secp256k1 signature.
type RemoteSigner struct {
	endpoint     string
	apiKey       string
	publicKeyHex string
	client       *http.Client
}

// NewRemoteSigner creates a remote signing client. publicKeyHex is the
// compressed public key of the remote signing key.
func NewRemoteSigner(endpoint, apiKey, publicKeyHex string) (*RemoteSigner, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}

	return &RemoteSigner{
		endpoint:     endpoint,
		apiKey:       apiKey,
		publicKeyHex: strings.TrimPrefix(publicKeyHex, "0x"),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Sign submits the message digest to the remote service.
func (s *RemoteSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("message is empty")
	}
	digest := sha256.Sum256(message)

	reqBody, err := json.Marshal(map[string]any{
		"payload_hex": hex.EncodeToString(digest[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer http %d", resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 && len(sig) != 64 {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}

	return sig, nil
}

// PublicKeyHex returns the configured public key for the remote key.
func (s *RemoteSigner) PublicKeyHex() string {
	return s.publicKeyHex
}
