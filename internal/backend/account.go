// ABOUTME: Account and session operations for the backend client
// ABOUTME: Session tokens are JWTs; expiry is read locally from the claims

package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Account is a registered backend account.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session is an authenticated backend session. The token is opaque to
// everything except expiry inspection; the backend verifies signatures.
type Session struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"-"`
}

// CreateAccount registers a new account. It does not log in.
func (c *Client) CreateAccount(ctx context.Context, email, password, name string) (*Account, error) {
	body := map[string]string{"email": email, "password": password, "name": name}
	var acct Account
	if err := c.do(ctx, http.MethodPost, "/v1/account", body, &acct); err != nil {
		return nil, err
	}
	c.logger.Debug("account created", "account_id", acct.ID)
	return &acct, nil
}

// CreateSession logs in with email and password. The resulting session is
// retained by the client and attached to subsequent requests.
func (c *Client) CreateSession(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/v1/account/sessions", body, &sess); err != nil {
		return nil, err
	}
	sess.ExpiresAt = tokenExpiry(sess.Token)

	c.mu.Lock()
	c.session = &sess
	c.mu.Unlock()

	c.logger.Debug("session created", "account_id", sess.AccountID, "expires_at", sess.ExpiresAt)
	return &sess, nil
}

// CurrentSession returns the held session if it is still valid, or nil when
// there is none. A locally-expired token is discarded without a round trip.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		c.clearSession()
		return nil, nil
	}

	var current Session
	if err := c.do(ctx, http.MethodGet, "/v1/account/sessions/current", nil, &current); err != nil {
		if IsAuth(err) {
			c.clearSession()
			return nil, nil
		}
		return nil, err
	}
	current.Token = sess.Token
	current.ExpiresAt = sess.ExpiresAt
	return &current, nil
}

// DeleteSession destroys the current remote session and clears the held token.
func (c *Client) DeleteSession(ctx context.Context) error {
	c.mu.RLock()
	held := c.session != nil
	c.mu.RUnlock()
	if !held {
		return fmt.Errorf("delete session: %w: no session held", ErrAuth)
	}

	if err := c.do(ctx, http.MethodDelete, "/v1/account/sessions/current", nil, nil); err != nil {
		return err
	}
	c.clearSession()
	c.logger.Debug("session deleted")
	return nil
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// tokenExpiry extracts the exp claim from a session JWT without verifying
// the signature. Returns the zero time if the token is not a parseable JWT.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
