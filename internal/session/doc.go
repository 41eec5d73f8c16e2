// Package session manages the authenticated identity: login, registration,
// logout, session resumption, and the online/offline presence flag with its
// best-effort update semantics.
package session
