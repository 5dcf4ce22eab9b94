package openid4vci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blockialabs/go-ssi-kit/storage"
)

var (
	// ErrSessionNotFound is returned when neither the canonical id nor
	// any alias resolves to a session.
	ErrSessionNotFound = errors.New("issuance session not found")

	// ErrConflict is returned by UpdateIf when the stored session no
	// longer matches the expected status.
	ErrConflict = errors.New("session status conflict")

	// ErrNonceNotFound is returned for unknown or expired c_nonce values.
	ErrNonceNotFound = errors.New("c_nonce not found")
)

// SessionStore persists issuance sessions. Sessions are addressed by
// their canonical ID; pre-authorized code, issuer state, and transaction
// id act as aliases resolving to the same record. Implementations must
// keep the alias index consistent with the canonical record on Put and
// Delete.
type SessionStore interface {
	Get(ctx context.Context, id string) (*IssuanceSession, error)
	GetByAlias(ctx context.Context, alias string) (*IssuanceSession, error)
	Put(ctx context.Context, session *IssuanceSession) error

	// UpdateIf applies mutate to the session only when its current
	// status equals expect, as a single atomic step. It returns
	// ErrConflict when the status has moved on.
	UpdateIf(ctx context.Context, id string, expect SessionStatus, mutate func(*IssuanceSession)) (*IssuanceSession, error)

	Delete(ctx context.Context, id string) error
	GetAllByIssuer(ctx context.Context, issuer string) ([]*IssuanceSession, error)
}

// MemSessionStore is an in-memory SessionStore suitable for tests and
// single-process issuers.
type MemSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*IssuanceSession
	aliases  map[string]string // alias -> canonical id
}

// NewMemSessionStore creates an empty MemSessionStore.
func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{
		sessions: make(map[string]*IssuanceSession),
		aliases:  make(map[string]string),
	}
}

func copySession(s *IssuanceSession) *IssuanceSession {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// Get retrieves a session by its canonical id.
func (m *MemSessionStore) Get(ctx context.Context, id string) (*IssuanceSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	return copySession(s), nil
}

// GetByAlias retrieves a session by pre-authorized code, issuer state,
// or transaction id. A canonical id also resolves.
func (m *MemSessionStore) GetByAlias(ctx context.Context, alias string) (*IssuanceSession, error) {
	m.mu.RLock()
	id, ok := m.aliases[alias]
	if !ok {
		id = alias
	}
	s, found := m.sessions[id]
	m.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("alias %q: %w", alias, ErrSessionNotFound)
	}
	return copySession(s), nil
}

// Put stores the session and rebuilds its alias entries. Aliases that
// pointed at this session but no longer apply are removed.
func (m *MemSessionStore) Put(ctx context.Context, session *IssuanceSession) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[session.ID]; ok {
		for _, alias := range prev.aliases() {
			if m.aliases[alias] == session.ID {
				delete(m.aliases, alias)
			}
		}
	}
	m.sessions[session.ID] = copySession(session)
	for _, alias := range session.aliases() {
		m.aliases[alias] = session.ID
	}
	return nil
}

// UpdateIf implements compare-and-swap on the session status.
func (m *MemSessionStore) UpdateIf(ctx context.Context, id string, expect SessionStatus, mutate func(*IssuanceSession)) (*IssuanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	if s.Status != expect {
		return nil, fmt.Errorf("session %q is %s, expected %s: %w", id, s.Status, expect, ErrConflict)
	}

	updated := copySession(s)
	mutate(updated)
	updated.ID = s.ID

	for _, alias := range s.aliases() {
		if m.aliases[alias] == s.ID {
			delete(m.aliases, alias)
		}
	}
	m.sessions[id] = updated
	for _, alias := range updated.aliases() {
		m.aliases[alias] = id
	}
	return copySession(updated), nil
}

// Delete removes the session and all aliases pointing at it.
func (m *MemSessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	for _, alias := range s.aliases() {
		if m.aliases[alias] == id {
			delete(m.aliases, alias)
		}
	}
	delete(m.sessions, id)
	return nil
}

// GetAllByIssuer lists sessions issued by the given credential issuer.
func (m *MemSessionStore) GetAllByIssuer(ctx context.Context, issuer string) ([]*IssuanceSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*IssuanceSession
	for _, s := range m.sessions {
		if s.CredentialIssuer == issuer {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

const cNoncePrefix = "openid4vci:cnonce:"

// CNonceStore persists c_nonce state on top of a storage.Store.
type CNonceStore struct {
	store storage.Store
}

// NewCNonceStore creates a CNonceStore backed by store.
func NewCNonceStore(store storage.Store) *CNonceStore {
	return &CNonceStore{store: store}
}

// Put stores the nonce state keyed by its c_nonce value.
func (c *CNonceStore) Put(ctx context.Context, state *CNonceState) error {
	if state == nil || state.CNonce == "" {
		return errors.New("c_nonce is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal c_nonce state: %w", err)
	}
	return c.store.Set(ctx, cNoncePrefix+state.CNonce, data)
}

// Get retrieves the state for a c_nonce value.
func (c *CNonceStore) Get(ctx context.Context, cNonce string) (*CNonceState, error) {
	data, err := c.store.Get(ctx, cNoncePrefix+cNonce)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("c_nonce %q: %w", cNonce, ErrNonceNotFound)
		}
		return nil, err
	}
	var state CNonceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal c_nonce state: %w", err)
	}
	return &state, nil
}

// Delete removes a c_nonce so it cannot be replayed.
func (c *CNonceStore) Delete(ctx context.Context, cNonce string) error {
	err := c.store.Delete(ctx, cNoncePrefix+cNonce)
	if err != nil && !errors.Is(err, storage.ErrDataNotFound) {
		return err
	}
	return nil
}

// Keys lists the stored c_nonce values, used by the expiry sweep.
func (c *CNonceStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, cNoncePrefix) {
			out = append(out, strings.TrimPrefix(k, cNoncePrefix))
		}
	}
	return out, nil
}
