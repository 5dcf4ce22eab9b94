package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation tags a DID lifecycle operation inside a signed payload.
type Operation string

const (
	OperationCreate     Operation = "create"
	OperationUpdate     Operation = "update"
	OperationDeactivate Operation = "deactivate"
)

// Payload is the signed-operation payload for the DID protocol. All
// values are strings so the serialized form round-trips byte-for-byte
// through decode and re-encode.
type Payload struct {
	Alg          string    `json:"alg"`
	Method       string    `json:"method"`
	Nonce        string    `json:"nonce"`
	Operation    Operation `json:"operation"`
	PublicKeyHex string    `json:"publicKeyHex"`
	Timestamp    string    `json:"timestamp"`

	// Extra carries operation-specific fields, flattened into the
	// serialized object.
	Extra map[string]string `json:"-"`
}

// newPayload builds a payload with a fresh random nonce and the current
// UTC timestamp.
func newPayload(method string, op Operation, alg, publicKeyHex string, extra map[string]string, now time.Time) *Payload {
	return &Payload{
		Alg:          alg,
		Method:       method,
		Nonce:        uuid.NewString(),
		Operation:    op,
		PublicKeyHex: publicKeyHex,
		Timestamp:    now.UTC().Format(time.RFC3339),
		Extra:        extra,
	}
}

// Serialize produces the canonical message bytes: a JSON object with
// lexicographically sorted keys. Serializing the same payload twice
// always yields identical bytes.
func (p *Payload) Serialize() ([]byte, error) {
	m := map[string]interface{}{
		"alg":          p.Alg,
		"method":       p.Method,
		"nonce":        p.Nonce,
		"operation":    string(p.Operation),
		"publicKeyHex": p.PublicKeyHex,
		"timestamp":    p.Timestamp,
	}
	for k, v := range p.Extra {
		switch k {
		case "alg", "method", "nonce", "operation", "publicKeyHex", "timestamp":
			return nil, fmt.Errorf("extra payload field %q shadows a protocol field", k)
		}
		m[k] = v
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return data, nil
}

// Encode returns the base64 form of the canonical message.
func (p *Payload) Encode() (string, error) {
	data, err := p.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// decodePayload decodes a base64 serialized payload. It returns the
// parsed payload together with the exact decoded bytes, which the
// tamper check compares against re-serialization.
func decodePayload(serialized string) (*Payload, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode serialized payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	p := &Payload{Extra: make(map[string]string)}
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("payload field %q is not a string", k)
		}
		switch k {
		case "alg":
			p.Alg = s
		case "method":
			p.Method = s
		case "nonce":
			p.Nonce = s
		case "operation":
			p.Operation = Operation(s)
		case "publicKeyHex":
			p.PublicKeyHex = s
		case "timestamp":
			p.Timestamp = s
		default:
			p.Extra[k] = s
		}
	}

	return p, raw, nil
}

// verifyIntegrity re-serializes the decoded payload and compares it
// byte-for-byte with the submitted bytes.
func (p *Payload) verifyIntegrity(submitted []byte) error {
	canonical, err := p.Serialize()
	if err != nil {
		return err
	}
	if !bytes.Equal(canonical, submitted) {
		return ErrPayloadTampered
	}
	return nil
}

// age returns how old the payload timestamp is relative to now.
func (p *Payload) age(now time.Time) (time.Duration, error) {
	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("invalid payload timestamp: %w", err)
	}
	return now.Sub(ts), nil
}
