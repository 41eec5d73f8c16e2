// Package chat is the conversation/message synchronization core.
//
// Two stores hold a derived, eventually-consistent view of the backend's
// documents: ConversationStore for the conversations visible to the current
// identity, MessageStore for the messages of the active conversation. The
// Reconciler owns the realtime subscriptions, decodes and filters incoming
// change events, and merges them into the stores.
//
// The merge is keyed by entity id and is idempotent and commutative under
// duplicate delivery: a create for a present id is a no-op (which is how a
// local optimistic insert and its echoed create event collapse into one
// entry), an update replaces in place, a delete for an absent id is a no-op.
package chat
