// Package chat contains the chat session and message delivery core:
// direct-chat resolution, durable message appends, and the read models
// backing the chat list and chat detail views.
package chat

import "time"

// MaxMessageChars is the maximum message text length (runes).
const MaxMessageChars = 4000

// Message is an immutable persisted chat message.
// Messages for a chat are totally ordered by (CreatedAt, ID).
type Message struct {
	ID        int64     `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant is the slice of a user the chat views need.
// User accounts themselves live behind an external store.
type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MessagePreview is the most recent message of a chat, used by the
// chat-list view. Ordering matches ListMessages.
type MessagePreview struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary is one row of the per-user chat list.
// LastMessage is nil when the chat has no messages yet.
type ChatSummary struct {
	ChatID      int64           `json:"chat_id"`
	Other       Participant     `json:"other_participant"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ChatDetail is the full view of one chat: its participants and its
// messages ordered oldest-first.
type ChatDetail struct {
	ChatID       int64         `json:"chat_id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
}

// ResolveResult is the outcome of a direct-chat resolution.
type ResolveResult struct {
	ChatID  int64
	Created bool
}

// CanonicalPair normalizes an unordered user pair to (lo, hi) for
// uniqueness checks and lock keys.
func CanonicalPair(a, b int64) (lo, hi int64) {
	if a > b {
		return b, a
	}
	return a, b
}
