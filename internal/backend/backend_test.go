// ABOUTME: Tests for the backend HTTP client
// ABOUTME: Covers the error taxonomy, auth headers, sessions, and document CRUD

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "acct-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestClient_StatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrValidation},
		{http.StatusConflict, ErrValidation},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusInternalServerError, ErrNetwork},
		{http.StatusBadGateway, ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{"message": "nope", "code": tt.status})
			}))
			defer srv.Close()

			c := New(srv.URL, "proj", WithDatabase("db"))
			_, err := c.List(context.Background(), "identities")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse all connections

	c := New(srv.URL, "proj", WithDatabase("db"))
	_, err := c.List(context.Background(), "identities")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClient_AuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		switch r.URL.Path {
		case "/v1/account/sessions":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-abc", "account_id": "acct-1"})
		default:
			json.NewEncoder(w).Encode(listResponse{})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "proj-1", WithDatabase("db"), WithAPIKey("admin-key"))

	_, err := c.List(context.Background(), "identities")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.Get("X-Lumen-Project"))
	assert.Equal(t, "admin-key", got.Get("X-Lumen-Key"))
	assert.Empty(t, got.Get("Authorization"))

	_, err = c.CreateSession(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)

	// The session token rides along from here on
	_, err = c.List(context.Background(), "identities")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-abc", got.Get("Authorization"))
}

func TestClient_CreateSession_ParsesTokenExpiry(t *testing.T) {
	expires := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := signedToken(t, expires)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": token, "account_id": "acct-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "proj")
	sess, err := c.CreateSession(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", sess.AccountID)
	assert.True(t, sess.ExpiresAt.Equal(expires), "want %v, got %v", expires, sess.ExpiresAt)
}

func TestClient_CreateSession_OpaqueTokenHasNoExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "not-a-jwt", "account_id": "acct-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "proj")
	sess, err := c.CreateSession(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, sess.ExpiresAt.IsZero())
}

func TestClient_CurrentSession(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/account/sessions":
			json.NewEncoder(w).Encode(map[string]string{
				"token":      signedToken(t, time.Now().Add(time.Hour)),
				"account_id": "acct-1",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/account/sessions/current":
			json.NewEncoder(w).Encode(map[string]string{"account_id": "acct-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "proj")

	// No session held: nil without a round trip
	before := requests
	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, before, requests)

	_, err = c.CreateSession(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)

	sess, err = c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "acct-1", sess.AccountID)
	assert.False(t, sess.ExpiresAt.IsZero())
}

func TestClient_CurrentSession_ExpiredTokenDiscardedLocally(t *testing.T) {
	token := signedToken(t, time.Now().Add(-time.Minute))
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(map[string]string{"token": token, "account_id": "acct-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "proj")
	_, err := c.CreateSession(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)

	before := requests
	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	// Expiry was decided from the claims, not the server
	assert.Equal(t, before, requests)
}

func TestClient_CurrentSession_RejectedRemotelyClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"token": "tok", "account_id": "acct-1"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"message": "session revoked"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "proj")
	_, err := c.CreateSession(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)

	// The revoked token is gone; a later call short-circuits to nil
	sess, err = c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestClient_DeleteSession_WithoutSession(t *testing.T) {
	c := New("http://127.0.0.1:0", "proj")
	err := c.DeleteSession(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestClient_List_EncodesQueries(t *testing.T) {
	var gotPath string
	var gotQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQueries = r.URL.Query()["query"]
		json.NewEncoder(w).Encode(listResponse{
			Total: 1,
			Documents: []Document{{
				ID:     "doc-1",
				Fields: map[string]any{"name": "Alice"},
			}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "proj", WithDatabase("db-1"))
	docs, err := c.List(context.Background(), "conversations",
		Contains("participants", "alice"),
		OrderDesc("updated_at"),
	)
	require.NoError(t, err)

	assert.Equal(t, "/v1/databases/db-1/collections/conversations/documents", gotPath)
	require.Len(t, gotQueries, 2)
	assert.Equal(t, `contains("participants","alice")`, gotQueries[0])
	assert.Equal(t, `orderDesc("updated_at")`, gotQueries[1])

	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "Alice", docs[0].Fields["name"])
}

func TestClient_CreateAndUpdateDocuments(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]any
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{r.Method, r.URL.Path, body})
		json.NewEncoder(w).Encode(Document{ID: "m-1", Fields: map[string]any{"content": "hi"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "proj", WithDatabase("db-1"))

	doc, err := c.Create(context.Background(), "messages", "m-1", map[string]any{"content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", doc.ID)

	_, err = c.Update(context.Background(), "messages", "m-1", map[string]any{"is_read": true})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "/v1/databases/db-1/collections/messages/documents", calls[0].path)
	assert.Equal(t, "m-1", calls[0].body["id"])

	assert.Equal(t, http.MethodPatch, calls[1].method)
	assert.Equal(t, "/v1/databases/db-1/collections/messages/documents/m-1", calls[1].path)
	fields, ok := calls[1].body["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, fields["is_read"])
}

func TestQueryRendering(t *testing.T) {
	assert.Equal(t, `equal("account_id","acct-1")`, Equal("account_id", "acct-1").String())
	assert.Equal(t, `contains("participants","alice")`, Contains("participants", "alice").String())
	assert.Equal(t, `orderDesc("created_at")`, OrderDesc("created_at").String())
}
