package vp

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/vc"
)

// Credentials extracts the embedded credentials of a presentation.
func Credentials(presentation jsonmap.JSONMap) ([]jsonmap.JSONMap, error) {
	raw, ok := presentation["verifiableCredential"]
	if !ok {
		return nil, nil
	}

	var entries []interface{}
	switch v := raw.(type) {
	case []interface{}:
		entries = v
	case map[string]interface{}:
		entries = []interface{}{v}
	default:
		return nil, fmt.Errorf("invalid verifiableCredential field: %T", raw)
	}

	credentials := make([]jsonmap.JSONMap, 0, len(entries))
	for i, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid credential at index %d: %T", i, entry)
		}
		credentials = append(credentials, jsonmap.JSONMap(m))
	}
	return credentials, nil
}

// VerifyCredentials verifies every credential embedded in the
// presentation through the credential processor. Credentials verify
// concurrently; the first invalid result fails the presentation.
func VerifyCredentials(ctx context.Context, presentation jsonmap.JSONMap, processor *vc.Processor) error {
	credentials, err := Credentials(presentation)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, credential := range credentials {
		g.Go(func() error {
			result := processor.Verify(gctx, credential, vc.VerifyOptions{})
			if !result.Valid {
				return fmt.Errorf("credential %d is invalid: %s", i, result.Reason)
			}
			return nil
		})
	}
	return g.Wait()
}
