// ABOUTME: MessageStore holds the derived message list of the active conversation
// ABOUTME: Canonical order is created-at descending; sends insert optimistically

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-chat/lumen/internal/backend"
)

// MessageStore is the local, eventually-consistent cache of the messages in
// the currently active conversation. It is mutated only by its own
// operations and by the Reconciler.
type MessageStore struct {
	docs          Documents
	messages      string // messages collection
	conversations string // conversations collection, for preview updates
	logger        *slog.Logger

	mu         sync.RWMutex
	active     string
	generation uint64
	items      []Message
	index      map[string]int
	loading    bool
	onChange   func()
}

// NewMessageStore creates a message store backed by the given collections.
// Pass nil logger for the default.
func NewMessageStore(docs Documents, messages, conversations string, logger *slog.Logger) *MessageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageStore{
		docs:          docs,
		messages:      messages,
		conversations: conversations,
		logger:        logger.With("component", "messages"),
		index:         make(map[string]int),
	}
}

// SetOnChange registers a callback invoked after every successful mutation.
// The callback runs without the store lock held.
func (s *MessageStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetActive selects the conversation whose messages this store holds and
// clears the previous contents. Bumping the generation makes any in-flight
// Load for the previous conversation discard its response.
func (s *MessageStore) SetActive(conversationID string) {
	s.mu.Lock()
	s.active = conversationID
	s.generation++
	s.items = nil
	s.index = make(map[string]int)
	s.mu.Unlock()
}

// ClearActive deselects the active conversation and empties the store.
func (s *MessageStore) ClearActive() {
	s.SetActive("")
}

// Active returns the active conversation id, or "".
func (s *MessageStore) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Load fetches the messages of conversationID, newest first. A response that
// arrives after the active conversation changed is discarded (nil, nil). On
// failure the previous contents are left untouched and the loading flag is
// cleared.
func (s *MessageStore) Load(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	if s.active != conversationID {
		s.mu.Unlock()
		return nil, fmt.Errorf("load messages: %w: conversation %s is not active", backend.ErrValidation, conversationID)
	}
	generation := s.generation
	s.loading = true
	s.mu.Unlock()
	defer s.setLoading(false)

	docs, err := s.docs.List(ctx, s.messages,
		backend.Equal(FieldConversationID, conversationID),
		backend.OrderDesc(FieldCreatedAt),
	)
	if err != nil {
		s.logger.Error("loading messages failed", "error", err, "conversation_id", conversationID)
		return nil, err
	}

	items := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := MessageFromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping malformed message document", "error", err)
			continue
		}
		items = append(items, msg)
	}

	s.mu.Lock()
	if s.generation != generation {
		// The active conversation changed while the request was in flight.
		s.mu.Unlock()
		s.logger.Debug("discarding stale message load", "conversation_id", conversationID)
		return nil, nil
	}
	s.items = items
	s.reindexLocked()
	s.mu.Unlock()

	s.notify()
	s.logger.Debug("messages loaded", "count", len(items), "conversation_id", conversationID)
	return s.Messages(), nil
}

// Send creates a message and updates the parent conversation's preview
// fields. Whitespace-only content is a no-op, not an error. The message id
// is generated client-side so the echoed create event dedupes by id.
//
// The message create and the preview update are two writes with no
// atomicity: a crash between them leaves the message visible without an
// updated preview, which the consistency model tolerates.
func (s *MessageStore) Send(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	if conversationID == "" || senderID == "" {
		return nil, fmt.Errorf("send message: %w: conversation and sender ids are required", backend.ErrValidation)
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	fields := map[string]any{
		FieldConversationID: conversationID,
		FieldSenderID:       senderID,
		FieldContent:        content,
		FieldCreatedAt:      now.Format(time.RFC3339),
		FieldIsRead:         false,
	}
	doc, err := s.docs.Create(ctx, s.messages, id, fields)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	msg, err := MessageFromDocument(*doc)
	if err != nil {
		return nil, fmt.Errorf("decoding created message: %w", err)
	}

	// Optimistic local insert; the echoed create event becomes a no-op.
	s.Apply(backend.OpCreate, msg)

	preview := map[string]any{
		FieldLastMessage:   content,
		FieldLastMessageAt: now.Format(time.RFC3339),
		FieldUpdatedAt:     now.Format(time.RFC3339),
	}
	if _, err := s.docs.Update(ctx, s.conversations, conversationID, preview); err != nil {
		s.logger.Warn("updating conversation preview failed",
			"error", err,
			"conversation_id", conversationID,
			"message_id", msg.ID)
	}

	s.logger.Debug("message sent", "message_id", msg.ID, "conversation_id", conversationID)
	return &msg, nil
}

// MarkRead flips the read flag of a message, the only permitted mutation.
func (s *MessageStore) MarkRead(ctx context.Context, messageID string) error {
	doc, err := s.docs.Update(ctx, s.messages, messageID, map[string]any{FieldIsRead: true})
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	msg, err := MessageFromDocument(*doc)
	if err != nil {
		return fmt.Errorf("decoding updated message: %w", err)
	}
	s.Apply(backend.OpUpdate, msg)
	return nil
}

// Apply merges one remote change event into the store. Events for other
// conversations are ignored. Idempotent under duplicate delivery.
func (s *MessageStore) Apply(operation string, msg Message) {
	s.mu.Lock()

	if s.active == "" || msg.ConversationID != s.active {
		s.mu.Unlock()
		return
	}

	changed := false
	switch operation {
	case backend.OpCreate:
		if _, ok := s.index[msg.ID]; !ok {
			s.items = append([]Message{msg}, s.items...)
			s.reindexLocked()
			changed = true
		}
	case backend.OpUpdate:
		if i, ok := s.index[msg.ID]; ok {
			s.items[i] = msg
			changed = true
		}
	case backend.OpDelete:
		if i, ok := s.index[msg.ID]; ok {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.reindexLocked()
			changed = true
		}
	default:
		s.logger.Warn("ignoring unknown operation", "operation", operation)
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Messages returns a snapshot of the store contents, newest first.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.items...)
}

// Loading reports whether a Load call is in flight.
func (s *MessageStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *MessageStore) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *MessageStore) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// reindexLocked rebuilds the id index. Must be called with mu held.
func (s *MessageStore) reindexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i, msg := range s.items {
		s.index[msg.ID] = i
	}
}
