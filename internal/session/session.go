// ABOUTME: Session manager owning the authenticated identity and presence flag
// ABOUTME: Presence writes are best-effort; staleness is tolerated by design of the model

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-chat/lumen/internal/backend"
	"github.com/lumen-chat/lumen/internal/chat"
)

// Accounts defines what the session manager needs from the backend's
// account surface.
type Accounts interface {
	CreateAccount(ctx context.Context, email, password, name string) (*backend.Account, error)
	CreateSession(ctx context.Context, email, password string) (*backend.Session, error)
	CurrentSession(ctx context.Context) (*backend.Session, error)
	DeleteSession(ctx context.Context) error
}

// Documents defines what the session manager needs from document storage.
type Documents interface {
	List(ctx context.Context, collection string, queries ...backend.Query) ([]backend.Document, error)
	Create(ctx context.Context, collection, id string, fields map[string]any) (*backend.Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (*backend.Document, error)
}

// Manager owns the authenticated identity and its online flag. All consumers
// receive the identity explicitly through Identity(); there is no ambient
// global state.
type Manager struct {
	accounts   Accounts
	docs       Documents
	collection string
	heartbeat  time.Duration
	logger     *slog.Logger

	mu         sync.RWMutex
	identity   *chat.Identity
	foreground bool
}

// NewManager creates a session manager over the given identity collection.
// heartbeat bounds presence staleness; zero disables the heartbeat loop.
// Pass nil logger for the default.
func NewManager(accounts Accounts, docs Documents, collection string, heartbeat time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		accounts:   accounts,
		docs:       docs,
		collection: collection,
		heartbeat:  heartbeat,
		logger:     logger.With("component", "session"),
	}
}

// Login establishes a session, resolves the caller's identity document
// (creating it if registration predates the identity record), and marks the
// identity online.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	sess, err := m.accounts.CreateSession(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return m.adopt(ctx, sess, email)
}

// Register creates an account, its identity document, then logs in.
func (m *Manager) Register(ctx context.Context, email, password, name string) error {
	acct, err := m.accounts.CreateAccount(ctx, email, password, name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	now := time.Now().UTC()
	fields := map[string]any{
		chat.FieldAccountID:  acct.ID,
		chat.FieldName:       name,
		chat.FieldEmail:      email,
		chat.FieldOnline:     true,
		chat.FieldLastActive: now.Format(time.RFC3339),
	}
	if _, err := m.docs.Create(ctx, m.collection, uuid.New().String(), fields); err != nil {
		return fmt.Errorf("register: creating identity record: %w", err)
	}

	return m.Login(ctx, email, password)
}

// Resume restores an existing session on startup, if one is still valid.
// Returns backend.ErrAuth when there is nothing to resume.
func (m *Manager) Resume(ctx context.Context) error {
	sess, err := m.accounts.CurrentSession(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("resume: %w: no session", backend.ErrAuth)
	}
	return m.adopt(ctx, sess, "")
}

// adopt resolves the identity document for a session and marks it online.
func (m *Manager) adopt(ctx context.Context, sess *backend.Session, email string) error {
	identity, err := m.resolveIdentity(ctx, sess.AccountID, email)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.identity = identity
	m.foreground = true
	m.mu.Unlock()

	m.setPresence(ctx, true)
	m.logger.Info("session established", "identity_id", identity.ID)
	return nil
}

// resolveIdentity finds the identity document for an account, creating a
// minimal record when the account has none yet.
func (m *Manager) resolveIdentity(ctx context.Context, accountID, email string) (*chat.Identity, error) {
	docs, err := m.docs.List(ctx, m.collection, backend.Equal(chat.FieldAccountID, accountID))
	if err != nil {
		return nil, fmt.Errorf("resolving identity: %w", err)
	}
	if len(docs) > 0 {
		identity, err := chat.IdentityFromDocument(docs[0])
		if err != nil {
			return nil, fmt.Errorf("decoding identity: %w", err)
		}
		return &identity, nil
	}

	// Account without an identity record: backfill one.
	now := time.Now().UTC()
	fields := map[string]any{
		chat.FieldAccountID:  accountID,
		chat.FieldName:       email,
		chat.FieldEmail:      email,
		chat.FieldOnline:     true,
		chat.FieldLastActive: now.Format(time.RFC3339),
	}
	doc, err := m.docs.Create(ctx, m.collection, uuid.New().String(), fields)
	if err != nil {
		return nil, fmt.Errorf("creating identity record: %w", err)
	}
	identity, err := chat.IdentityFromDocument(*doc)
	if err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	m.logger.Debug("identity record backfilled", "identity_id", identity.ID)
	return &identity, nil
}

// Logout marks the identity offline (best-effort), destroys the remote
// session, and clears local identity state. Local state is kept if the
// session deletion fails so the caller can retry.
func (m *Manager) Logout(ctx context.Context) error {
	m.setPresence(ctx, false)

	if err := m.accounts.DeleteSession(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	m.mu.Lock()
	m.identity = nil
	m.foreground = false
	m.mu.Unlock()

	m.logger.Info("logged out")
	return nil
}

// Identity returns a copy of the authenticated identity, or nil.
func (m *Manager) Identity() *chat.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	cp := *m.identity
	return &cp
}

// SetForeground marks the identity online; called when the application
// comes to the foreground.
func (m *Manager) SetForeground(ctx context.Context) {
	m.mu.Lock()
	m.foreground = true
	m.mu.Unlock()
	m.setPresence(ctx, true)
}

// SetBackground marks the identity offline; called on background transition
// or termination. Not guaranteed to complete if the process dies first —
// readers of the online flag must tolerate staleness.
func (m *Manager) SetBackground(ctx context.Context) {
	m.mu.Lock()
	m.foreground = false
	m.mu.Unlock()
	m.setPresence(ctx, false)
}

// Heartbeat re-asserts the online flag at the configured interval while the
// application is foregrounded, bounding presence staleness. Blocks until ctx
// is cancelled; a zero interval disables it.
func (m *Manager) Heartbeat(ctx context.Context) {
	if m.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			active := m.foreground && m.identity != nil
			m.mu.RUnlock()
			if active {
				m.setPresence(ctx, true)
			}
		}
	}
}

// Peers lists the registered identities other than the caller's own, for
// starting a new conversation.
func (m *Manager) Peers(ctx context.Context) ([]chat.Identity, error) {
	self := m.Identity()
	if self == nil {
		return nil, fmt.Errorf("peers: %w: not logged in", backend.ErrAuth)
	}

	docs, err := m.docs.List(ctx, m.collection)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}

	peers := make([]chat.Identity, 0, len(docs))
	for _, doc := range docs {
		identity, err := chat.IdentityFromDocument(doc)
		if err != nil {
			m.logger.Warn("skipping malformed identity document", "error", err)
			continue
		}
		if identity.ID == self.ID {
			continue
		}
		peers = append(peers, identity)
	}
	return peers, nil
}

// setPresence writes the online flag and last-active timestamp. Failures are
// logged and dropped; the next heartbeat repairs staleness.
func (m *Manager) setPresence(ctx context.Context, online bool) {
	m.mu.RLock()
	identity := m.identity
	m.mu.RUnlock()
	if identity == nil {
		return
	}

	now := time.Now().UTC()
	fields := map[string]any{
		chat.FieldOnline:     online,
		chat.FieldLastActive: now.Format(time.RFC3339),
	}
	if _, err := m.docs.Update(ctx, m.collection, identity.ID, fields); err != nil {
		m.logger.Warn("presence update failed", "error", err, "online", online)
		return
	}

	m.mu.Lock()
	if m.identity != nil && m.identity.ID == identity.ID {
		m.identity.Online = online
		m.identity.LastActive = now
	}
	m.mu.Unlock()
}
