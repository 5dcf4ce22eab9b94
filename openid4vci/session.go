// Package openid4vci implements the issuer-side session machinery for
// OpenID for Verifiable Credential Issuance: credential offers, c_nonce
// lifecycle, holder-proof validation, and the deferred-issuance state
// machine.
package openid4vci

import (
	"time"

	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/vc"
)

// SessionStatus is the issuance session state.
type SessionStatus string

const (
	StatusOfferCreated      SessionStatus = "offer_created"
	StatusDeferred          SessionStatus = "deferred"
	StatusCredentialIssued  SessionStatus = "credential_issued"
	StatusCredentialClaimed SessionStatus = "credential_claimed"
	StatusRejected          SessionStatus = "rejected"
)

// activeStatuses never expire: an in-flight issuance must not be lost
// to the TTL sweep.
var activeStatuses = map[SessionStatus]struct{}{
	StatusDeferred:          {},
	StatusCredentialIssued:  {},
	StatusCredentialClaimed: {},
}

// Active reports whether the status exempts a session from expiry.
func (s SessionStatus) Active() bool {
	_, ok := activeStatuses[s]
	return ok
}

// Wire-level error codes surfaced to holders.
const (
	CodeIssuancePending      = "ISSUANCE_PENDING"
	CodeIssuanceRejected     = "ISSUANCE_REJECTED"
	CodeInvalidTransactionID = "INVALID_TRANSACTION_ID"
)

// NotificationStatus records the holder's notification event for a
// session.
type NotificationStatus string

const (
	NotificationAccepted NotificationStatus = "credential_accepted"
	NotificationDeleted  NotificationStatus = "credential_deleted"
	NotificationFailure  NotificationStatus = "credential_failure"
)

// IssuanceSession is the canonical record of an issuance flow. It is
// addressable through its ID and through the secondary index keys
// (pre-authorized code, issuer state, transaction id); the store keeps
// those aliases consistent with this record.
type IssuanceSession struct {
	ID                 string                 `json:"id"`
	CredentialIssuer   string                 `json:"credentialIssuer,omitempty"`
	PreAuthorizedCode  string                 `json:"preAuthorizedCode,omitempty"`
	IssuerState        string                 `json:"issuerState,omitempty"`
	TransactionID      string                 `json:"transactionId,omitempty"`
	NotificationID     string                 `json:"notificationId,omitempty"`
	NotificationStatus NotificationStatus     `json:"notificationStatus,omitempty"`
	Pin                string                 `json:"pin,omitempty"`
	Status             SessionStatus          `json:"status"`
	PendingCredential  *vc.PreparedCredential `json:"pendingCredential,omitempty"`
	CredentialResponse jsonmap.JSONMap        `json:"credentialResponse,omitempty"`
	Error              string                 `json:"error,omitempty"`
	ErrorDescription   string                 `json:"errorDescription,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
	LastUpdatedAt      time.Time              `json:"lastUpdatedAt"`
}

// aliases returns the secondary index keys addressing this session.
func (s *IssuanceSession) aliases() []string {
	var out []string
	if s.PreAuthorizedCode != "" {
		out = append(out, s.PreAuthorizedCode)
	}
	if s.IssuerState != "" {
		out = append(out, s.IssuerState)
	}
	if s.TransactionID != "" {
		out = append(out, s.TransactionID)
	}
	return out
}

// CNonceState is the server-issued nonce a holder must echo in its
// proof. Each successful proof validation rotates it.
type CNonceState struct {
	CNonce            string    `json:"cNonce"`
	CreatedAt         time.Time `json:"createdAt"`
	PreAuthorizedCode string    `json:"preAuthorizedCode,omitempty"`
	IssuerState       string    `json:"issuerState,omitempty"`
	ExpiresIn         int       `json:"expiresIn"`
}

// Expired reports whether the nonce is past its lifetime.
func (n *CNonceState) Expired(now time.Time) bool {
	return now.After(n.CreatedAt.Add(time.Duration(n.ExpiresIn) * time.Second))
}

// CredentialOffer is the grant material handed to a holder.
type CredentialOffer struct {
	SessionID         string `json:"session_id"`
	PreAuthorizedCode string `json:"pre-authorized_code,omitempty"`
	IssuerState       string `json:"issuer_state,omitempty"`
	PinRequired       bool   `json:"pin_required,omitempty"`
}

// DeferredResponse is the holder-facing outcome of a deferred status
// check.
type DeferredResponse struct {
	Credential       jsonmap.JSONMap `json:"credential,omitempty"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	Error            string          `json:"error,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
}
