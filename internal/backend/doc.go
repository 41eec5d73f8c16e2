// Package backend is the client for the remote lumen backend: account and
// session management, schemaless document CRUD with query constraints, and
// realtime change-channel subscriptions over websocket.
//
// The backend is the authoritative owner of all data. Errors are classified
// into four sentinels (ErrAuth, ErrNotFound, ErrNetwork, ErrValidation) at
// this boundary so callers can branch with errors.Is.
package backend
