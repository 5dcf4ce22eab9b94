// Package did provides the DID data model: identifier syntax, DID
// documents with verification methods and relationships, a two-tier
// document builder, and content-negotiated document representations.
package did

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var didSyntax = regexp.MustCompile(`^did:[a-z0-9]+:[a-zA-Z0-9.\-_:%]+$`)

// ErrInvalidDID is returned when a string does not match DID syntax.
var ErrInvalidDID = errors.New("invalid DID syntax")

// DID is a parsed decentralized identifier.
type DID struct {
	Method           string
	MethodSpecificID string
}

// Parse validates and splits a DID string of the form
// did:<method>:<method-specific-id>.
func Parse(did string) (*DID, error) {
	if !didSyntax.MatchString(did) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}

	parts := strings.SplitN(did, ":", 3)
	return &DID{
		Method:           parts[1],
		MethodSpecificID: parts[2],
	}, nil
}

// MethodSegment returns the method segment of a DID string.
func MethodSegment(did string) (string, error) {
	parsed, err := Parse(did)
	if err != nil {
		return "", err
	}
	return parsed.Method, nil
}

// String reassembles the DID.
func (d *DID) String() string {
	return fmt.Sprintf("did:%s:%s", d.Method, d.MethodSpecificID)
}

// SplitDIDURL separates a DID URL into its DID and fragment parts.
// A missing fragment returns an empty string.
func SplitDIDURL(didURL string) (didPart, fragment string, err error) {
	didPart, fragment, _ = strings.Cut(didURL, "#")
	if didPart == "" {
		return "", "", fmt.Errorf("invalid DID URL, could not extract DID: %q", didURL)
	}
	if !strings.HasPrefix(didPart, "did:") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDID, didPart)
	}
	return didPart, fragment, nil
}
