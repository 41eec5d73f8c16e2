// ABOUTME: Entity types for the chat core and their document decoders
// ABOUTME: Untyped backend documents become typed entities at this boundary

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/lumen-chat/lumen/internal/backend"
)

// Collection field names shared with the backend schema.
const (
	FieldAccountID      = "account_id"
	FieldName           = "name"
	FieldEmail          = "email"
	FieldOnline         = "is_online"
	FieldLastActive     = "last_active"
	FieldParticipants   = "participants"
	FieldPair           = "pair"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
	FieldLastMessage    = "last_message"
	FieldLastMessageAt  = "last_message_at"
	FieldConversationID = "conversation_id"
	FieldSenderID       = "sender_id"
	FieldContent        = "content"
	FieldIsRead         = "is_read"
)

// Identity is a registered user as seen by the chat core.
type Identity struct {
	ID         string
	AccountID  string
	Name       string
	Email      string
	Online     bool
	LastActive time.Time
}

// Conversation is a two-party conversation. Participants is the canonical
// (sorted) unordered pair and is immutable after creation. The preview
// fields are denormalized from the latest message.
type Conversation struct {
	ID            string
	Participants  []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessage   string
	LastMessageAt time.Time
}

// HasParticipant reports whether id is one of the two participants.
func (c Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Message is a single chat message. Only IsRead may change after creation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	IsRead         bool
}

// CanonicalPair returns the two ids in canonical (sorted) order.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey returns the canonical key for an unordered participant pair, used
// by the backend's uniqueness index.
func PairKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return a + "|" + b
}

// IdentityFromDocument decodes an identity document.
func IdentityFromDocument(doc backend.Document) (Identity, error) {
	accountID, err := fieldString(doc, FieldAccountID)
	if err != nil {
		return Identity{}, err
	}
	name, err := fieldString(doc, FieldName)
	if err != nil {
		return Identity{}, err
	}
	email, err := fieldString(doc, FieldEmail)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:         doc.ID,
		AccountID:  accountID,
		Name:       name,
		Email:      email,
		Online:     optionalBool(doc, FieldOnline),
		LastActive: optionalTime(doc, FieldLastActive),
	}, nil
}

// ConversationFromDocument decodes a conversation document. Exactly two
// participants are required.
func ConversationFromDocument(doc backend.Document) (Conversation, error) {
	participants, err := fieldStrings(doc, FieldParticipants)
	if err != nil {
		return Conversation{}, err
	}
	if len(participants) != 2 {
		return Conversation{}, fmt.Errorf("document %s: expected 2 participants, got %d", doc.ID, len(participants))
	}
	return Conversation{
		ID:            doc.ID,
		Participants:  participants,
		CreatedAt:     timestamp(doc, FieldCreatedAt, doc.CreatedAt),
		UpdatedAt:     timestamp(doc, FieldUpdatedAt, doc.UpdatedAt),
		LastMessage:   optionalString(doc, FieldLastMessage),
		LastMessageAt: optionalTime(doc, FieldLastMessageAt),
	}, nil
}

// MessageFromDocument decodes a message document.
func MessageFromDocument(doc backend.Document) (Message, error) {
	conversationID, err := fieldString(doc, FieldConversationID)
	if err != nil {
		return Message{}, err
	}
	senderID, err := fieldString(doc, FieldSenderID)
	if err != nil {
		return Message{}, err
	}
	content, err := fieldString(doc, FieldContent)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:             doc.ID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      timestamp(doc, FieldCreatedAt, doc.CreatedAt),
		IsRead:         optionalBool(doc, FieldIsRead),
	}, nil
}

// fieldString returns a required string field.
func fieldString(doc backend.Document, key string) (string, error) {
	v, ok := doc.Fields[key]
	if !ok {
		return "", fmt.Errorf("document %s: missing field %q", doc.ID, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("document %s: field %q is not a string", doc.ID, key)
	}
	return s, nil
}

// fieldStrings returns a required string-array field. JSON decoding yields
// []any, so both representations are accepted.
func fieldStrings(doc backend.Document, key string) ([]string, error) {
	v, ok := doc.Fields[key]
	if !ok {
		return nil, fmt.Errorf("document %s: missing field %q", doc.ID, key)
	}
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...), nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("document %s: field %q has a non-string element", doc.ID, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("document %s: field %q is not a string array", doc.ID, key)
	}
}

func optionalString(doc backend.Document, key string) string {
	s, _ := doc.Fields[key].(string)
	return s
}

func optionalBool(doc backend.Document, key string) bool {
	b, _ := doc.Fields[key].(bool)
	return b
}

// optionalTime decodes an RFC 3339 string or time.Time field, returning the
// zero time when absent or malformed.
func optionalTime(doc backend.Document, key string) time.Time {
	switch v := doc.Fields[key].(type) {
	case time.Time:
		return v
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return time.Time{}
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// timestamp prefers the field value and falls back to the document metadata.
func timestamp(doc backend.Document, key string, fallback time.Time) time.Time {
	if t := optionalTime(doc, key); !t.IsZero() {
		return t
	}
	return fallback
}
