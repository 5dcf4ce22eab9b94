package verificationmethod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockialabs/go-ssi-kit/did/registry"
)

func TestHTTPResolverResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/did:example:abc", r.URL.Path)
		w.Write([]byte(`{
			"didDocument": {"id": "did:example:abc"},
			"didResolutionMetadata": {"contentType": "application/did+json"}
		}`))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL)
	result, err := resolver.Resolve(context.Background(), "did:example:abc")
	require.NoError(t, err)
	require.NotNil(t, result.Document)
	assert.Equal(t, "did:example:abc", result.Document.ID)
}

func TestHTTPResolverBareDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id": "did:example:bare"}`))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL)
	result, err := resolver.Resolve(context.Background(), "did:example:bare")
	require.NoError(t, err)
	require.NotNil(t, result.Document)
	assert.Equal(t, "did:example:bare", result.Document.ID)
}

func TestHTTPResolverErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewHTTPResolver(srv.URL).Resolve(context.Background(), "did:example:missing")
		assert.ErrorContains(t, err, "non-200")
	})

	t.Run("no document in response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"didResolutionMetadata": {}}`))
		}))
		defer srv.Close()

		_, err := NewHTTPResolver(srv.URL).Resolve(context.Background(), "did:example:empty")
		assert.ErrorIs(t, err, registry.ErrResolutionFailed)
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{`))
		}))
		defer srv.Close()

		_, err := NewHTTPResolver(srv.URL).Resolve(context.Background(), "did:example:bad")
		assert.Error(t, err)
	})
}
