package vc

import (
	"context"
	"fmt"

	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/common/processor"
)

// FormatHandler turns a proof-free credential into its canonical form.
// The canonical form must be a pure function of the credential: the
// same input always yields the same string.
type FormatHandler interface {
	Canonicalize(ctx context.Context, credential jsonmap.JSONMap) (string, error)
}

// LDPHandler canonicalizes JSON-LD credentials to URDNA2015 n-quads.
type LDPHandler struct {
	opts []processor.Opt
}

// NewLDPHandler creates the JSON-LD format handler.
func NewLDPHandler(opts ...processor.Opt) *LDPHandler {
	return &LDPHandler{opts: opts}
}

// Canonicalize normalizes the credential. The proof field is excluded
// regardless of whether the caller already stripped it.
func (h *LDPHandler) Canonicalize(_ context.Context, credential jsonmap.JSONMap) (string, error) {
	canonical, err := credential.Canonicalize(h.opts...)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize credential: %w", err)
	}
	return string(canonical), nil
}
