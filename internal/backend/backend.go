// ABOUTME: HTTP client for the lumen document backend
// ABOUTME: Holds connection settings, session state, and the error taxonomy

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrAuth is returned for bad credentials or an expired/missing session.
var ErrAuth = errors.New("authentication failed")

// ErrNotFound is returned when a referenced document or collection does not exist.
var ErrNotFound = errors.New("not found")

// ErrNetwork is returned when the backend is unreachable or the request timed out.
var ErrNetwork = errors.New("network error")

// ErrValidation is returned for malformed or conflicting requests.
var ErrValidation = errors.New("validation failed")

// Client talks to the lumen backend: accounts and sessions, document CRUD,
// and realtime change channels. All state it holds locally (the session
// token) is derived from the backend; the backend is the source of truth.
type Client struct {
	endpoint string
	project  string
	database string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger

	mu      sync.RWMutex
	session *Session
}

// Option configures a Client.
type Option func(*Client)

// WithDatabase sets the database id used for document operations.
func WithDatabase(id string) Option {
	return func(c *Client) { c.database = id }
}

// WithAPIKey sets the admin API key used by provisioning calls.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger. Pass nil for the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a backend client for the given endpoint and project.
func New(endpoint, project string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		project:  project,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "backend")
	return c
}

// apiError is the JSON error body returned by the backend.
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// do performs one JSON request against the backend and decodes the response
// into out (which may be nil). Transport failures and error statuses are
// mapped onto the package error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(method, path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s %s: %w", method, path, err)
	}
	return nil
}

// setAuthHeaders attaches the project id, the session token (if logged in),
// and the admin API key (if configured) to a request.
func (c *Client) setAuthHeaders(h http.Header) {
	h.Set("X-Lumen-Project", c.project)
	if c.apiKey != "" {
		h.Set("X-Lumen-Key", c.apiKey)
	}
	c.mu.RLock()
	if c.session != nil {
		h.Set("Authorization", "Bearer "+c.session.Token)
	}
	c.mu.RUnlock()
}

// statusError maps an HTTP error status onto the error taxonomy, preserving
// the backend's message where one is provided.
func (c *Client) statusError(method, path string, resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Message
	if msg == "" {
		msg = resp.Status
	}

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		sentinel = ErrAuth
	case resp.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		sentinel = ErrValidation
	default:
		sentinel = ErrNetwork
	}
	return fmt.Errorf("%s %s: %w: %s", method, path, sentinel, msg)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsNotFound reports whether err indicates a missing document or collection.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a validation or conflict failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
