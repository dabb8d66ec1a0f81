package chat

import "context"

// Store persists chats, memberships, and messages.
//
// Requirements:
//   - ResolveOrCreateDirectChat creates at most one chat per unordered
//     user pair, under any number of concurrent callers.
//   - SendMessage performs chat resolution and the message append in a
//     single transaction, so a failed send leaves no partial chat,
//     membership, or message behind.
//   - CreatedAt values are non-decreasing in commit order per chat;
//     ListMessages is ordered by (created_at, id) ASC.
type Store interface {
	// ResolveOrCreateDirectChat returns the unique direct chat between
	// two distinct users, creating it (chat row plus both membership
	// rows, atomically) when absent.
	ResolveOrCreateDirectChat(ctx context.Context, userA, userB int64) (ResolveResult, error)

	// AppendMessage durably appends a message to an existing chat.
	// The sender membership check runs inside the same transaction as
	// the insert.
	AppendMessage(ctx context.Context, chatID, senderID int64, text string) (Message, error)

	// SendMessage resolves or creates the direct chat between sender and
	// receiver and appends the message, all in one transaction.
	// The returned bool reports whether the chat was created by this call.
	SendMessage(ctx context.Context, senderID, receiverID int64, text string) (Message, bool, error)

	// ListMessages returns up to limit messages of a chat ordered
	// oldest-first. limit <= 0 selects the default window. An unknown
	// chat is ErrNotFound; an existing chat with no messages is an
	// empty slice.
	ListMessages(ctx context.Context, chatID int64, limit int) ([]Message, error)

	// LastMessagePreview returns the most recent message of a chat, or
	// nil when the chat has no messages.
	LastMessagePreview(ctx context.Context, chatID int64) (*MessagePreview, error)

	// ChatsForUser returns the user's chat list, most recently active
	// first. Chats with no messages sort after the rest, by creation.
	ChatsForUser(ctx context.Context, userID int64) ([]ChatSummary, error)

	// ChatDetail returns participants and the full message history of a
	// chat, messages oldest-first.
	ChatDetail(ctx context.Context, chatID int64) (ChatDetail, error)

	Close() error
}
