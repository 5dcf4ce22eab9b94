package openid4vci

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockialabs/go-ssi-kit/credential/common/jsonmap"
	"github.com/blockialabs/go-ssi-kit/credential/vc"
	"github.com/blockialabs/go-ssi-kit/signer"
)

var (
	// ErrInvalidState is returned when a transition is requested from a
	// session status that does not permit it.
	ErrInvalidState = errors.New("invalid session state for operation")

	// ErrAlreadyClaimed is returned when a deferred credential is
	// re-requested after it has been delivered.
	ErrAlreadyClaimed = errors.New("credential already claimed")

	// ErrInvalidIssuanceState is returned for sessions in a status the
	// deferred flow does not recognize.
	ErrInvalidIssuanceState = errors.New("invalid issuance state")

	// ErrInvalidTransaction is returned for unknown transaction ids.
	ErrInvalidTransaction = errors.New("invalid transaction id")
)

const (
	// DefaultSessionTTL bounds how long a non-active session survives
	// without updates.
	DefaultSessionTTL = 300 * time.Second

	// DefaultCNonceTTL is the lifetime of issued c_nonce values in
	// seconds.
	DefaultCNonceTTL = 300

	defaultRejectReason = "Credential request rejected"
)

// Manager drives the deferred issuance flow: offers, holder-proof
// checks, c_nonce rotation, and the session state machine.
type Manager struct {
	sessions  SessionStore
	nonces    *CNonceStore
	processor *vc.Processor
	proofs    *ProofValidator

	sessionTTL time.Duration
	cNonceTTL  int
	now        func() time.Time
	log        *logrus.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL overrides the session expiry window.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.sessionTTL = ttl }
}

// WithCNonceTTL overrides the c_nonce lifetime in seconds.
func WithCNonceTTL(seconds int) ManagerOption {
	return func(m *Manager) { m.cNonceTTL = seconds }
}

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger overrides the logger.
func WithLogger(log *logrus.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager wires a Manager from its collaborators.
func NewManager(sessions SessionStore, nonces *CNonceStore, processor *vc.Processor, proofs *ProofValidator, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   sessions,
		nonces:     nonces,
		processor:  processor,
		proofs:     proofs,
		sessionTTL: DefaultSessionTTL,
		cNonceTTL:  DefaultCNonceTTL,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OfferOptions carries offer creation inputs.
type OfferOptions struct {
	// Pin, when set, must be presented by the holder alongside the
	// pre-authorized code.
	Pin string
	// UseIssuerState selects the authorization-code grant instead of the
	// pre-authorized one.
	UseIssuerState bool
}

// CreateOffer opens a new issuance session and returns the grant
// material for the holder, together with the initial c_nonce.
func (m *Manager) CreateOffer(ctx context.Context, issuer string, opts OfferOptions) (*IssuanceSession, *CredentialOffer, *CNonceState, error) {
	now := m.now()
	session := &IssuanceSession{
		ID:               uuid.New().String(),
		CredentialIssuer: issuer,
		Pin:              opts.Pin,
		Status:           StatusOfferCreated,
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
	if opts.UseIssuerState {
		session.IssuerState = uuid.New().String()
	} else {
		session.PreAuthorizedCode = uuid.New().String()
	}

	if err := m.sessions.Put(ctx, session); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to store session: %w", err)
	}

	nonce := &CNonceState{
		CNonce:            uuid.New().String(),
		CreatedAt:         now,
		PreAuthorizedCode: session.PreAuthorizedCode,
		IssuerState:       session.IssuerState,
		ExpiresIn:         m.cNonceTTL,
	}
	if err := m.nonces.Put(ctx, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to store c_nonce: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"issuer":     issuer,
	}).Info("credential offer created")

	offer := &CredentialOffer{
		SessionID:         session.ID,
		PreAuthorizedCode: session.PreAuthorizedCode,
		IssuerState:       session.IssuerState,
		PinRequired:       opts.Pin != "",
	}
	return session, offer, nonce, nil
}

// CredentialRequest is a holder's request for credential issuance.
type CredentialRequest struct {
	// ProofJWT is the compact holder-proof JWT.
	ProofJWT string
	// Credential is the proof-free credential to issue.
	Credential jsonmap.JSONMap
	// Format selects the credential format handler.
	Format vc.Format
	// Pin is the transaction code, required when the offer demanded one.
	Pin string
}

// CredentialRequestResult acknowledges a deferred request.
type CredentialRequestResult struct {
	TransactionID string
	CNonce        *CNonceState
}

// HandleCredentialRequest validates the holder proof, prepares the
// requested credential, and defers the session. The old c_nonce is
// rotated so the proof cannot be replayed.
func (m *Manager) HandleCredentialRequest(ctx context.Context, req CredentialRequest) (*CredentialRequestResult, error) {
	validated, err := m.proofs.Validate(ctx, req.ProofJWT, "")
	if err != nil {
		return nil, err
	}
	if validated.Claims.Nonce == "" {
		return nil, fmt.Errorf("%w: proof carries no nonce", ErrInvalidProof)
	}

	nonceState, err := m.nonces.Get(ctx, validated.Claims.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if nonceState.Expired(m.now()) {
		return nil, fmt.Errorf("%w: c_nonce expired", ErrInvalidProof)
	}

	alias := nonceState.PreAuthorizedCode
	if alias == "" {
		alias = nonceState.IssuerState
	}
	session, err := m.sessions.GetByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	if session.Pin != "" && session.Pin != req.Pin {
		return nil, fmt.Errorf("%w: transaction code mismatch", ErrInvalidProof)
	}

	prepared, err := m.processor.PrepareIssuance(ctx, req.Credential, vc.PrepareOptions{Format: req.Format})
	if err != nil {
		return nil, err
	}

	transactionID := uuid.New().String()
	updated, err := m.sessions.UpdateIf(ctx, session.ID, session.Status, func(s *IssuanceSession) {
		s.Status = StatusDeferred
		s.TransactionID = transactionID
		s.PendingCredential = prepared
		s.LastUpdatedAt = m.now()
	})
	if err != nil {
		return nil, err
	}

	nextNonce, err := m.rotateCNonce(ctx, nonceState)
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"session_id":     updated.ID,
		"transaction_id": transactionID,
	}).Info("credential request deferred")

	return &CredentialRequestResult{TransactionID: transactionID, CNonce: nextNonce}, nil
}

// rotateCNonce deletes the consumed nonce and issues a fresh one bound
// to the same session.
func (m *Manager) rotateCNonce(ctx context.Context, old *CNonceState) (*CNonceState, error) {
	if err := m.nonces.Delete(ctx, old.CNonce); err != nil {
		return nil, fmt.Errorf("failed to delete consumed c_nonce: %w", err)
	}
	next := &CNonceState{
		CNonce:            uuid.New().String(),
		CreatedAt:         m.now(),
		PreAuthorizedCode: old.PreAuthorizedCode,
		IssuerState:       old.IssuerState,
		ExpiresIn:         m.cNonceTTL,
	}
	if err := m.nonces.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store rotated c_nonce: %w", err)
	}
	return next, nil
}

// ApproveOptions carries issuer-side completion inputs.
type ApproveOptions struct {
	VerificationMethod string
	ProofType          string
	ProofPurpose       string
}

// ApproveIssuance signs the pending credential of a deferred session and
// moves it to credential_issued.
func (m *Manager) ApproveIssuance(ctx context.Context, transactionID string, s signer.Signer, opts ApproveOptions) (*IssuanceSession, error) {
	session, err := m.sessions.GetByAlias(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if session.Status != StatusDeferred {
		return nil, fmt.Errorf("session %q is %s: %w", session.ID, session.Status, ErrInvalidState)
	}
	if session.PendingCredential == nil {
		return nil, fmt.Errorf("session %q has no pending credential: %w", session.ID, ErrInvalidIssuanceState)
	}

	signature, err := s.Sign(ctx, []byte(session.PendingCredential.CanonicalForm))
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	credential, err := m.processor.CompleteIssuance(ctx, session.PendingCredential, vc.CompleteOptions{
		VerificationMethod: opts.VerificationMethod,
		Signature:          hex.EncodeToString(signature),
		ProofType:          opts.ProofType,
		ProofPurpose:       opts.ProofPurpose,
	})
	if err != nil {
		return nil, err
	}

	updated, err := m.sessions.UpdateIf(ctx, session.ID, StatusDeferred, func(s *IssuanceSession) {
		s.Status = StatusCredentialIssued
		s.CredentialResponse = credential
		s.PendingCredential = nil
		s.LastUpdatedAt = m.now()
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"session_id":     updated.ID,
		"transaction_id": transactionID,
	}).Info("credential issued")
	return updated, nil
}

// CheckDeferredStatus answers a holder's deferred-credential poll. When
// the credential is ready it is returned exactly once: the transaction
// id is cleared in the same atomic step, so a second poll fails with
// ErrAlreadyClaimed.
func (m *Manager) CheckDeferredStatus(ctx context.Context, transactionID string) (*DeferredResponse, error) {
	session, err := m.sessions.GetByAlias(ctx, transactionID)
	if err != nil {
		return &DeferredResponse{
			Error:            CodeInvalidTransactionID,
			ErrorDescription: "Unknown transaction id",
		}, fmt.Errorf("%w: %q", ErrInvalidTransaction, transactionID)
	}

	switch session.Status {
	case StatusDeferred:
		return &DeferredResponse{
			TransactionID: session.TransactionID,
			Error:         CodeIssuancePending,
		}, nil

	case StatusCredentialIssued:
		if session.CredentialResponse == nil {
			// A crash between signing and storing can leave the session
			// issued with nothing to deliver. Fall back to deferred so
			// the issuer can retry.
			if _, err := m.sessions.UpdateIf(ctx, session.ID, StatusCredentialIssued, func(s *IssuanceSession) {
				s.Status = StatusDeferred
				s.LastUpdatedAt = m.now()
			}); err != nil {
				return nil, err
			}
			m.log.WithField("session_id", session.ID).Warn("issued session had no stored response, reverted to deferred")
			return &DeferredResponse{
				TransactionID: session.TransactionID,
				Error:         CodeIssuancePending,
			}, nil
		}

		claimed, err := m.sessions.UpdateIf(ctx, session.ID, StatusCredentialIssued, func(s *IssuanceSession) {
			s.Status = StatusCredentialClaimed
			s.TransactionID = ""
			s.LastUpdatedAt = m.now()
		})
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return nil, fmt.Errorf("%w: session %q", ErrAlreadyClaimed, session.ID)
			}
			return nil, err
		}
		m.log.WithField("session_id", claimed.ID).Info("credential claimed")
		return &DeferredResponse{Credential: claimed.CredentialResponse}, nil

	case StatusRejected:
		description := session.ErrorDescription
		if description == "" {
			description = defaultRejectReason
		}
		return &DeferredResponse{
			Error:            CodeIssuanceRejected,
			ErrorDescription: description,
		}, nil

	case StatusCredentialClaimed:
		return nil, fmt.Errorf("%w: session %q", ErrAlreadyClaimed, session.ID)

	default:
		return nil, fmt.Errorf("%w: session %q is %s", ErrInvalidIssuanceState, session.ID, session.Status)
	}
}

// RejectIssuance declines a deferred session with a reason surfaced to
// the holder. Sessions in any other status fail with ErrInvalidState.
func (m *Manager) RejectIssuance(ctx context.Context, transactionID, reason string) (*IssuanceSession, error) {
	session, err := m.sessions.GetByAlias(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if reason == "" {
		reason = defaultRejectReason
	}

	updated, err := m.sessions.UpdateIf(ctx, session.ID, StatusDeferred, func(s *IssuanceSession) {
		s.Status = StatusRejected
		s.Error = CodeIssuanceRejected
		s.ErrorDescription = reason
		s.PendingCredential = nil
		s.LastUpdatedAt = m.now()
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("session %q is %s: %w", session.ID, session.Status, ErrInvalidState)
		}
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"session_id": updated.ID,
		"reason":     reason,
	}).Info("credential request rejected")
	return updated, nil
}

// RecordNotification correlates a holder notification event with its
// session via the notification id, creating the id on first use.
func (m *Manager) RecordNotification(ctx context.Context, sessionID string, status NotificationStatus) (*IssuanceSession, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	updated, err := m.sessions.UpdateIf(ctx, session.ID, session.Status, func(s *IssuanceSession) {
		if s.NotificationID == "" {
			s.NotificationID = uuid.New().String()
		}
		s.NotificationStatus = status
		s.LastUpdatedAt = m.now()
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ExpireSessions removes an issuer's inactive sessions whose last update
// is older than the session TTL. Active sessions never expire. Expired
// c_nonce records are swept alongside.
func (m *Manager) ExpireSessions(ctx context.Context, issuer string) (int, error) {
	sessions, err := m.sessions.GetAllByIssuer(ctx, issuer)
	if err != nil {
		return 0, err
	}

	now := m.now()
	removed := 0
	for _, session := range sessions {
		if session.Status.Active() {
			continue
		}
		if now.Sub(session.LastUpdatedAt) <= m.sessionTTL {
			continue
		}
		if err := m.sessions.Delete(ctx, session.ID); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return removed, err
		}
		removed++
		m.log.WithField("session_id", session.ID).Debug("expired issuance session removed")
	}

	nonces, err := m.nonces.Keys(ctx)
	if err != nil {
		return removed, err
	}
	for _, cNonce := range nonces {
		state, err := m.nonces.Get(ctx, cNonce)
		if err != nil {
			continue
		}
		if state.Expired(now) {
			if err := m.nonces.Delete(ctx, cNonce); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}
