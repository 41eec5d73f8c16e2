// ABOUTME: ConversationStore holds the derived set of conversations for one identity
// ABOUTME: Creation is idempotent per unordered participant pair

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-chat/lumen/internal/backend"
)

// Documents defines what the chat stores need from the backend client.
type Documents interface {
	List(ctx context.Context, collection string, queries ...backend.Query) ([]backend.Document, error)
	Create(ctx context.Context, collection, id string, fields map[string]any) (*backend.Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (*backend.Document, error)
}

// ConversationStore is the local, eventually-consistent cache of the
// conversations visible to the current identity. It is mutated only by its
// own operations and by the Reconciler.
type ConversationStore struct {
	docs       Documents
	collection string
	logger     *slog.Logger

	mu      sync.RWMutex
	items   []Conversation
	index   map[string]int
	loading bool
}

// NewConversationStore creates a conversation store backed by the given
// collection. Pass nil logger for the default.
func NewConversationStore(docs Documents, collection string, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		docs:       docs,
		collection: collection,
		logger:     logger.With("component", "conversations"),
		index:      make(map[string]int),
	}
}

// Load replaces the store contents with all conversations whose participants
// include identityID. No client-side re-sort is applied; the backend's order
// is kept. On failure the previous contents are left untouched and the
// loading flag is cleared.
func (s *ConversationStore) Load(ctx context.Context, identityID string) ([]Conversation, error) {
	s.setLoading(true)
	defer s.setLoading(false)

	docs, err := s.docs.List(ctx, s.collection, backend.Contains(FieldParticipants, identityID))
	if err != nil {
		s.logger.Error("loading conversations failed", "error", err, "identity_id", identityID)
		return nil, err
	}

	items := make([]Conversation, 0, len(docs))
	for _, doc := range docs {
		conv, err := ConversationFromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping malformed conversation document", "error", err)
			continue
		}
		items = append(items, conv)
	}

	s.mu.Lock()
	s.items = items
	s.reindexLocked()
	s.mu.Unlock()

	s.logger.Debug("conversations loaded", "count", len(items), "identity_id", identityID)
	return s.Conversations(), nil
}

// GetOrCreate returns the conversation for the unordered pair
// {selfID, otherID}, creating it with empty preview fields when none exists.
// Calls with the same pair in either order return the same conversation.
func (s *ConversationStore) GetOrCreate(ctx context.Context, selfID, otherID string) (Conversation, error) {
	if selfID == "" || otherID == "" {
		return Conversation{}, fmt.Errorf("get or create conversation: %w: empty participant id", backend.ErrValidation)
	}
	if selfID == otherID {
		return Conversation{}, fmt.Errorf("get or create conversation: %w: participants must differ", backend.ErrValidation)
	}
	first, second := CanonicalPair(selfID, otherID)

	existing, err := s.findPair(ctx, first, second)
	if err != nil {
		return Conversation{}, err
	}
	if existing != nil {
		s.upsert(*existing)
		return *existing, nil
	}

	now := time.Now().UTC()
	fields := map[string]any{
		FieldParticipants: []string{first, second},
		FieldPair:         PairKey(first, second),
		FieldCreatedAt:    now.Format(time.RFC3339),
		FieldUpdatedAt:    now.Format(time.RFC3339),
	}
	doc, err := s.docs.Create(ctx, s.collection, uuid.New().String(), fields)
	if err != nil {
		// A concurrent call may have created the pair between our lookup and
		// the insert; the backend's unique pair index rejects the duplicate.
		if backend.IsValidation(err) {
			existing, lookupErr := s.findPair(ctx, first, second)
			if lookupErr == nil && existing != nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
				s.upsert(*existing)
				return *existing, nil
			}
		}
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	conv, err := ConversationFromDocument(*doc)
	if err != nil {
		return Conversation{}, fmt.Errorf("decoding created conversation: %w", err)
	}
	s.upsert(conv)
	s.logger.Debug("conversation created", "conversation_id", conv.ID)
	return conv, nil
}

// findPair looks up the conversation containing both participants, or nil.
func (s *ConversationStore) findPair(ctx context.Context, a, b string) (*Conversation, error) {
	docs, err := s.docs.List(ctx, s.collection,
		backend.Contains(FieldParticipants, a),
		backend.Contains(FieldParticipants, b),
	)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation pair: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	conv, err := ConversationFromDocument(docs[0])
	if err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	return &conv, nil
}

// Apply merges one remote change event into the store. It is idempotent:
// applying the same event twice leaves the same state as applying it once.
func (s *ConversationStore) Apply(operation string, conv Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch operation {
	case backend.OpCreate:
		if _, ok := s.index[conv.ID]; ok {
			return // already present, e.g. local optimistic insert
		}
		s.items = append([]Conversation{conv}, s.items...)
		s.reindexLocked()
	case backend.OpUpdate:
		i, ok := s.index[conv.ID]
		if !ok {
			return
		}
		s.items[i] = conv
	case backend.OpDelete:
		i, ok := s.index[conv.ID]
		if !ok {
			return
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.reindexLocked()
	default:
		s.logger.Warn("ignoring unknown operation", "operation", operation)
	}
}

// Conversations returns a snapshot of the store contents.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Conversation(nil), s.items...)
}

// Get returns the conversation with the given id, if present.
func (s *ConversationStore) Get(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Conversation{}, false
	}
	return s.items[i], true
}

// Loading reports whether a Load call is in flight.
func (s *ConversationStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *ConversationStore) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// upsert inserts at the head or replaces in place, keyed by id.
func (s *ConversationStore) upsert(conv Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[conv.ID]; ok {
		s.items[i] = conv
		return
	}
	s.items = append([]Conversation{conv}, s.items...)
	s.reindexLocked()
}

// reindexLocked rebuilds the id index. Must be called with mu held.
func (s *ConversationStore) reindexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i, conv := range s.items {
		s.index[conv.ID] = i
	}
}
