package verificationmethod

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/blockialabs/go-ssi-kit/did/registry"
)

// HTTPResolver resolves DIDs against a remote resolver endpoint. It can
// back a method registry for methods resolved off-host.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver client for a base URL. Requests are
// traced through otelhttp.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Resolve fetches and parses a DID resolution result from the endpoint.
func (r *HTTPResolver) Resolve(ctx context.Context, didID string) (*registry.ResolutionResult, error) {
	apiURL := r.baseURL + "/" + url.PathEscape(didID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build DID resolver request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request to DID resolver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DID resolver returned non-200 status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read DID resolver response: %w", err)
	}

	var result registry.ResolutionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DID resolution result: %w", err)
	}
	if result.Document == nil {
		// Some resolvers return the bare document rather than a
		// resolution envelope.
		if err := json.Unmarshal(body, &result.Document); err != nil || result.Document.ID == "" {
			return nil, fmt.Errorf("%w: %q", registry.ErrResolutionFailed, didID)
		}
	}

	return &result, nil
}
