package did

import (
	"errors"
	"fmt"
)

// ErrBuilderSealed is returned when a builder is mutated after Seal.
var ErrBuilderSealed = errors.New("document builder is sealed")

// Builder accumulates DID document fields. Build returns a mutable
// DraftDocument snapshot and leaves the builder usable; Seal finalizes
// the builder into an immutable Document, after which every mutating
// method fails with ErrBuilderSealed.
type Builder struct {
	doc    Document
	sealed bool
	err    error
}

// NewBuilder creates a builder for the given DID.
func NewBuilder(id string) *Builder {
	b := &Builder{}
	b.doc.ID = id
	b.doc.Context = append([]string(nil), DefaultContexts...)
	return b
}

func (b *Builder) mutate(fn func(*Document)) *Builder {
	if b.err != nil {
		return b
	}
	if b.sealed {
		b.err = ErrBuilderSealed
		return b
	}
	fn(&b.doc)
	return b
}

// WithContext replaces the document contexts.
func (b *Builder) WithContext(contexts ...string) *Builder {
	return b.mutate(func(d *Document) {
		d.Context = append([]string(nil), contexts...)
	})
}

// WithController sets the controller.
func (b *Builder) WithController(controller string) *Builder {
	return b.mutate(func(d *Document) {
		d.Controller = controller
	})
}

// AddVerificationMethod appends a verification method.
func (b *Builder) AddVerificationMethod(vm VerificationMethod) *Builder {
	return b.mutate(func(d *Document) {
		d.VerificationMethod = append(d.VerificationMethod, vm)
	})
}

// AddAuthentication appends an authentication relationship reference.
func (b *Builder) AddAuthentication(ref string) *Builder {
	return b.mutate(func(d *Document) {
		d.Authentication = append(d.Authentication, Relationship{Reference: ref})
	})
}

// AddAssertionMethod appends an assertion relationship reference.
func (b *Builder) AddAssertionMethod(ref string) *Builder {
	return b.mutate(func(d *Document) {
		d.AssertionMethod = append(d.AssertionMethod, Relationship{Reference: ref})
	})
}

// AddKeyAgreement appends a key agreement relationship reference.
func (b *Builder) AddKeyAgreement(ref string) *Builder {
	return b.mutate(func(d *Document) {
		d.KeyAgreement = append(d.KeyAgreement, Relationship{Reference: ref})
	})
}

// AddCapabilityInvocation appends a capability invocation reference.
func (b *Builder) AddCapabilityInvocation(ref string) *Builder {
	return b.mutate(func(d *Document) {
		d.CapabilityInvocation = append(d.CapabilityInvocation, Relationship{Reference: ref})
	})
}

// AddCapabilityDelegation appends a capability delegation reference.
func (b *Builder) AddCapabilityDelegation(ref string) *Builder {
	return b.mutate(func(d *Document) {
		d.CapabilityDelegation = append(d.CapabilityDelegation, Relationship{Reference: ref})
	})
}

// AddService appends a service endpoint.
func (b *Builder) AddService(svc Service) *Builder {
	return b.mutate(func(d *Document) {
		d.Service = append(d.Service, svc)
	})
}

// DraftDocument is a mutable working copy of a document under
// construction. Drafts are independent of the builder that produced
// them: further builder mutations do not affect earlier drafts.
type DraftDocument struct {
	Document
}

// Build returns a mutable draft snapshot of the current state. The
// builder remains usable afterwards.
func (b *Builder) Build() (*DraftDocument, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.sealed {
		return nil, ErrBuilderSealed
	}
	return &DraftDocument{Document: copyDocument(&b.doc)}, nil
}

// Seal validates and finalizes the document. The builder rejects all
// further mutation, and the returned document is an immutable snapshot.
func (b *Builder) Seal() (*Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.sealed {
		return nil, ErrBuilderSealed
	}

	if _, err := b.doc.Validate(); err != nil {
		return nil, fmt.Errorf("failed to seal document: %w", err)
	}

	b.sealed = true
	sealed := copyDocument(&b.doc)
	return &sealed, nil
}

// Seal promotes a draft into a validated immutable document.
func (d *DraftDocument) Seal() (*Document, error) {
	if _, err := d.Document.Validate(); err != nil {
		return nil, fmt.Errorf("failed to seal document: %w", err)
	}
	sealed := copyDocument(&d.Document)
	return &sealed, nil
}

func copyDocument(src *Document) Document {
	dst := *src
	dst.Context = append([]string(nil), src.Context...)
	dst.VerificationMethod = append([]VerificationMethod(nil), src.VerificationMethod...)
	dst.Authentication = append([]Relationship(nil), src.Authentication...)
	dst.AssertionMethod = append([]Relationship(nil), src.AssertionMethod...)
	dst.KeyAgreement = append([]Relationship(nil), src.KeyAgreement...)
	dst.CapabilityInvocation = append([]Relationship(nil), src.CapabilityInvocation...)
	dst.CapabilityDelegation = append([]Relationship(nil), src.CapabilityDelegation...)
	dst.Service = append([]Service(nil), src.Service...)
	return dst
}
