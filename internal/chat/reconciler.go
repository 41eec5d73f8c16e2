// ABOUTME: Reconciler owns the realtime subscriptions and dispatches change events
// ABOUTME: Events are decoded, filtered for relevance, deduped, then merged into a store

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumen-chat/lumen/internal/backend"
	"github.com/lumen-chat/lumen/internal/dedupe"
)

const (
	// Redelivered events older than this are assumed flushed from the network.
	seenEventTTL = 5 * time.Minute
	seenEventMax = 4096
)

// Subscriber defines what the reconciler needs from the backend client.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (backend.Subscription, error)
}

// channelSub tracks one active subscription and its drained read loop.
type channelSub struct {
	sub  backend.Subscription
	done chan struct{}
}

// Reconciler subscribes to the conversation and message change channels and
// merges relevant events into the two stores. It is the only component
// besides the stores' own operations that mutates them. Subscriptions are
// owned exclusively by the reconciler and released on every teardown path.
type Reconciler struct {
	rt            Subscriber
	conversations *ConversationStore
	messages      *MessageStore
	convCol       string
	msgCol        string
	seen          *dedupe.Cache
	logger        *slog.Logger

	mu         sync.Mutex
	identityID string
	convSub    *channelSub
	msgSub     *channelSub
}

// NewReconciler creates a reconciler over the given stores and collections.
// Pass nil logger for the default.
func NewReconciler(rt Subscriber, conversations *ConversationStore, messages *MessageStore, convCol, msgCol string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		rt:            rt,
		conversations: conversations,
		messages:      messages,
		convCol:       convCol,
		msgCol:        msgCol,
		seen:          dedupe.New(seenEventTTL, seenEventMax),
		logger:        logger.With("component", "reconciler"),
	}
}

// Start opens the conversation-channel subscription for the given identity.
// One subscription exists per active identity; it lives until Stop.
func (r *Reconciler) Start(ctx context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.convSub != nil {
		return fmt.Errorf("reconciler already started")
	}

	sub, err := r.rt.Subscribe(ctx, backend.ChannelCollection(r.convCol))
	if err != nil {
		return fmt.Errorf("subscribing to conversations: %w", err)
	}

	r.identityID = identityID
	r.convSub = &channelSub{sub: sub, done: make(chan struct{})}
	go r.conversationLoop(identityID, r.convSub)

	r.logger.Info("conversation channel active", "identity_id", identityID)
	return nil
}

// SetActiveConversation switches the message-channel subscription to the
// given conversation. The previous subscription is torn down before the new
// one opens so events cannot leak across conversations.
func (r *Reconciler) SetActiveConversation(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownMessagesLocked()
	r.messages.SetActive(conversationID)

	sub, err := r.rt.Subscribe(ctx, backend.ChannelCollection(r.msgCol))
	if err != nil {
		r.messages.ClearActive()
		return fmt.Errorf("subscribing to messages: %w", err)
	}

	r.msgSub = &channelSub{sub: sub, done: make(chan struct{})}
	go r.messageLoop(conversationID, r.msgSub)

	r.logger.Info("message channel active", "conversation_id", conversationID)
	return nil
}

// ClearActiveConversation tears down the message-channel subscription and
// empties the message store.
func (r *Reconciler) ClearActiveConversation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownMessagesLocked()
	r.messages.ClearActive()
}

// Stop tears down both subscriptions. The reconciler can be started again
// for another identity.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownMessagesLocked()
	r.messages.ClearActive()

	if r.convSub != nil {
		r.convSub.sub.Close()
		<-r.convSub.done
		r.convSub = nil
	}
	r.identityID = ""
	r.logger.Info("reconciler stopped")
}

// Close stops the reconciler and releases the dedupe cache.
func (r *Reconciler) Close() {
	r.Stop()
	r.seen.Close()
}

// teardownMessagesLocked closes the message subscription and waits for its
// loop to drain. Must be called with mu held.
func (r *Reconciler) teardownMessagesLocked() {
	if r.msgSub == nil {
		return
	}
	r.msgSub.sub.Close()
	<-r.msgSub.done
	r.msgSub = nil
}

// conversationLoop merges conversation events for the given identity until
// the subscription's event channel closes.
func (r *Reconciler) conversationLoop(identityID string, cs *channelSub) {
	defer close(cs.done)

	for ev := range cs.sub.Events() {
		if r.seen.CheckAndMark(eventKey(ev)) {
			continue
		}

		if ev.Operation == backend.OpDelete {
			// Delete payloads may carry no fields; the id is enough, and
			// removal of an id the store never held is a no-op anyway.
			r.conversations.Apply(backend.OpDelete, Conversation{ID: ev.Document.ID})
			continue
		}

		conv, err := ConversationFromDocument(ev.Document)
		if err != nil {
			r.logger.Warn("dropping malformed conversation event", "error", err, "operation", ev.Operation)
			continue
		}
		if !conv.HasParticipant(identityID) {
			continue
		}
		r.conversations.Apply(ev.Operation, conv)
	}
	r.logger.Debug("conversation channel closed", "identity_id", identityID)
}

// messageLoop merges message events for the given conversation until the
// subscription's event channel closes.
func (r *Reconciler) messageLoop(conversationID string, cs *channelSub) {
	defer close(cs.done)

	for ev := range cs.sub.Events() {
		if r.seen.CheckAndMark(eventKey(ev)) {
			continue
		}

		if ev.Operation == backend.OpDelete {
			r.messages.Apply(backend.OpDelete, Message{ID: ev.Document.ID, ConversationID: conversationID})
			continue
		}

		msg, err := MessageFromDocument(ev.Document)
		if err != nil {
			r.logger.Warn("dropping malformed message event", "error", err, "operation", ev.Operation)
			continue
		}
		if msg.ConversationID != conversationID {
			continue
		}
		r.messages.Apply(ev.Operation, msg)
	}
	r.logger.Debug("message channel closed", "conversation_id", conversationID)
}

// eventKey identifies one delivery of one document revision, so redelivered
// events are dropped before the (already idempotent) merge.
func eventKey(ev backend.RawEvent) string {
	return ev.Operation + ":" + ev.Document.ID + ":" + ev.Document.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
