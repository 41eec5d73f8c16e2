// ABOUTME: Shared test fakes for the chat package
// ABOUTME: fakeDocuments is an in-memory Documents implementation with failure hooks

package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumen-chat/lumen/internal/backend"
)

// fakeDocuments is an in-memory stand-in for the backend document client.
// It understands the equal/contains/orderDesc constraints the stores use
// and enforces a unique pair index on the conversations collection.
type fakeDocuments struct {
	mu          sync.Mutex
	collections map[string][]backend.Document

	// Failure hooks
	listErr   error
	createErr error
	updateErr error
	// failCreateOnce returns createErr for the first Create call only.
	failCreateOnce bool
	// listEmptyOnce makes the first List call return no documents,
	// simulating a lookup that races a concurrent create.
	listEmptyOnce bool
	// blockList, when set, makes the next List call wait until the channel
	// is closed. waitForList blocks until that call is underway.
	blockList   chan struct{}
	listEntered chan struct{}

	createCalls int
	listCalls   int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		collections: make(map[string][]backend.Document),
		listEntered: make(chan struct{}, 1),
	}
}

func (f *fakeDocuments) waitForList() { <-f.listEntered }

func (f *fakeDocuments) List(_ context.Context, collection string, queries ...backend.Query) ([]backend.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.listEmptyOnce {
		f.listEmptyOnce = false
		return nil, nil
	}
	if block := f.blockList; block != nil {
		f.blockList = nil
		f.mu.Unlock()
		f.listEntered <- struct{}{}
		<-block
		f.mu.Lock()
	}

	var out []backend.Document
	orderField := ""
	for _, doc := range f.collections[collection] {
		match := true
		for _, q := range queries {
			field, value, kind := decodeQuery(q)
			switch kind {
			case "equal":
				if s, _ := doc.Fields[field].(string); s != value {
					match = false
				}
			case "contains":
				if !containsString(doc.Fields[field], value) {
					match = false
				}
			case "orderDesc":
				orderField = field
			}
		}
		if match {
			out = append(out, doc)
		}
	}

	if orderField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i].Fields[orderField].(string)
			b, _ := out[j].Fields[orderField].(string)
			return a > b
		})
	}
	return out, nil
}

func (f *fakeDocuments) Create(_ context.Context, collection, id string, fields map[string]any) (*backend.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++

	if f.createErr != nil {
		err := f.createErr
		if f.failCreateOnce {
			f.createErr = nil
		}
		return nil, err
	}

	for _, doc := range f.collections[collection] {
		if doc.ID == id {
			return nil, fmt.Errorf("create %s/%s: %w: duplicate id", collection, id, backend.ErrValidation)
		}
	}
	if pair, ok := fields[FieldPair].(string); ok {
		for _, doc := range f.collections[collection] {
			if existing, _ := doc.Fields[FieldPair].(string); existing == pair {
				return nil, fmt.Errorf("create %s: %w: unique index violation on pair", collection, backend.ErrValidation)
			}
		}
	}

	doc := backend.Document{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Fields:    copyFields(fields),
	}
	f.collections[collection] = append(f.collections[collection], doc)
	return &doc, nil
}

func (f *fakeDocuments) Update(_ context.Context, collection, id string, fields map[string]any) (*backend.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return nil, f.updateErr
	}

	docs := f.collections[collection]
	for i := range docs {
		if docs[i].ID == id {
			for k, v := range fields {
				docs[i].Fields[k] = v
			}
			docs[i].UpdatedAt = time.Now().UTC()
			doc := docs[i]
			doc.Fields = copyFields(doc.Fields)
			return &doc, nil
		}
	}
	return nil, fmt.Errorf("update %s/%s: %w", collection, id, backend.ErrNotFound)
}

// seed inserts a document directly, bypassing uniqueness checks.
func (f *fakeDocuments) seed(collection string, doc backend.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = append(f.collections[collection], doc)
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func containsString(field any, value string) bool {
	switch vv := field.(type) {
	case []string:
		for _, s := range vv {
			if s == value {
				return true
			}
		}
	case []any:
		for _, item := range vv {
			if s, _ := item.(string); s == value {
				return true
			}
		}
	}
	return false
}

// decodeQuery reverse-engineers the rendered query expression. Test-only:
// the production rendering is the contract, so the fake parses it.
func decodeQuery(q backend.Query) (field, value, kind string) {
	expr := q.String()
	for _, k := range []string{"equal", "contains", "orderDesc"} {
		prefix := k + `("`
		if len(expr) > len(prefix) && expr[:len(prefix)] == prefix {
			rest := expr[len(prefix):]
			for i := 0; i < len(rest); i++ {
				if rest[i] == '"' {
					field = rest[:i]
					rest = rest[i+1:]
					break
				}
			}
			kind = k
			if k == "orderDesc" {
				return field, "", kind
			}
			// rest is `,"value")` for string values
			if len(rest) > 3 && rest[0] == ',' && rest[1] == '"' {
				value = rest[2 : len(rest)-2]
			}
			return field, value, kind
		}
	}
	return "", "", ""
}

// conversationDoc builds a conversation document for seeding and events.
func conversationDoc(id string, participants []string, updatedAt time.Time) backend.Document {
	return backend.Document{
		ID:        id,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
		Fields: map[string]any{
			FieldParticipants: participants,
			FieldPair:         PairKey(participants[0], participants[1]),
			FieldCreatedAt:    updatedAt.Format(time.RFC3339),
			FieldUpdatedAt:    updatedAt.Format(time.RFC3339),
		},
	}
}

// messageDoc builds a message document for seeding and events.
func messageDoc(id, conversationID, senderID, content string, createdAt time.Time) backend.Document {
	return backend.Document{
		ID:        id,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Fields: map[string]any{
			FieldConversationID: conversationID,
			FieldSenderID:       senderID,
			FieldContent:        content,
			FieldCreatedAt:      createdAt.Format(time.RFC3339),
			FieldIsRead:         false,
		},
	}
}
