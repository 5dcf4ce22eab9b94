package processor

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/piprate/json-gold/ld"
)

const (
	format           = "application/n-quads"
	defaultAlgorithm = ld.AlgorithmURDNA2015
)

// ErrEmptyCanonicalForm is returned when canonicalization yields no output.
var ErrEmptyCanonicalForm = errors.New("canonical form is empty")

// defaultDocumentLoader is a shared caching loader to prevent repeated
// context fetches across calls.
var defaultDocumentLoader ld.DocumentLoader

func init() {
	innerLoader := ld.NewDefaultDocumentLoader(nil)
	defaultDocumentLoader = ld.NewCachingDocumentLoader(innerLoader)
}

// Opt represents an option for JSON-LD processing.
type Opt func(*options)

type options struct {
	documentLoader ld.DocumentLoader
	algorithm      string
}

// WithDocumentLoader sets a custom JSON-LD document loader.
func WithDocumentLoader(loader ld.DocumentLoader) Opt {
	return func(o *options) {
		o.documentLoader = loader
	}
}

// WithAlgorithm sets the RDF dataset normalization algorithm.
func WithAlgorithm(alg string) Opt {
	return func(o *options) {
		o.algorithm = alg
	}
}

// Canonicalize normalizes a JSON-LD document into canonical n-quads.
// The output is a pure function of the input document: identical
// documents always produce identical bytes.
func Canonicalize(doc map[string]interface{}, opts ...Opt) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("failed to canonicalize document: document is nil")
	}

	o := &options{
		documentLoader: defaultDocumentLoader,
		algorithm:      defaultAlgorithm,
	}
	for _, opt := range opts {
		opt(o)
	}

	jsonldOptions := ld.NewJsonLdOptions("")
	jsonldOptions.ProcessingMode = ld.JsonLd_1_1
	jsonldOptions.Format = format
	jsonldOptions.Algorithm = o.algorithm
	jsonldOptions.ProduceGeneralizedRdf = true
	jsonldOptions.DocumentLoader = o.documentLoader

	proc := ld.NewJsonLdProcessor()
	view, err := proc.Normalize(doc, jsonldOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}

	result, ok := view.(string)
	if !ok {
		return nil, errors.New("failed to normalize document: invalid view")
	}
	if result == "" {
		return nil, ErrEmptyCanonicalForm
	}

	return []byte(result), nil
}

// Digest computes the SHA-256 digest of the input data.
func Digest(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}
