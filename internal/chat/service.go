package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"parley/internal/metrics"
)

// Publisher fans a committed message out to live room subscribers.
// Publish is called exactly once per committed message, strictly after
// the store transaction commits, and must never block the send path.
//
// Publish order across senders is best-effort: the per-chat store lock
// releases at commit, so a descheduled sender may publish its message
// after a later sender published a newer one. The persisted order is
// authoritative; clients reconcile via history fetch.
type Publisher interface {
	Publish(msg Message)
}

// NopPublisher discards messages. Used when no realtime layer is wired
// (tests, batch tools).
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Message) {}

// Service orchestrates the send path: validate, resolve-or-create plus
// append in one store transaction, then publish to the room.
//
// A failure before commit has no observable effect. A failure after
// commit is still a successful send: at most the broadcast to some
// connections is missed, and those clients reconcile via history fetch.
type Service struct {
	log    *slog.Logger
	store  Store
	fanout Publisher
}

// NewService constructs a Service. A nil publisher disables fanout.
func NewService(log *slog.Logger, store Store, fanout Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	if fanout == nil {
		fanout = NopPublisher{}
	}
	return &Service{log: log, store: store, fanout: fanout}
}

// SendMessage persists a message between sender and receiver, creating
// their chat when absent, and publishes it to the chat's room.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID int64, text string) (Message, error) {
	if senderID <= 0 || receiverID <= 0 {
		return Message{}, fmt.Errorf("%w: sender_id and receiver_id are required", ErrInvalidArgument)
	}
	if senderID == receiverID {
		return Message{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, fmt.Errorf("%w: empty text", ErrInvalidArgument)
	}

	msg, created, err := s.store.SendMessage(ctx, senderID, receiverID, text)
	if err != nil {
		return Message{}, err
	}

	if created {
		metrics.ChatsCreated.Inc()
		s.log.Info("chat.created", "chat_id", msg.ChatID, "user_a", senderID, "user_b", receiverID)
	}
	metrics.MessagesAppended.Inc()

	// Publish strictly after commit. Never before: a concurrent failure
	// could otherwise roll back a message that subscribers already saw.
	s.fanout.Publish(msg)

	return msg, nil
}

// ResolveOrCreateDirectChat exposes chat resolution without an append.
func (s *Service) ResolveOrCreateDirectChat(ctx context.Context, userA, userB int64) (int64, error) {
	res, err := s.store.ResolveOrCreateDirectChat(ctx, userA, userB)
	if err != nil {
		return 0, err
	}
	if res.Created {
		metrics.ChatsCreated.Inc()
		s.log.Info("chat.created", "chat_id", res.ChatID, "user_a", userA, "user_b", userB)
	}
	return res.ChatID, nil
}

// ChatsForUser returns the user's chat list, most recently active first.
func (s *Service) ChatsForUser(ctx context.Context, userID int64) ([]ChatSummary, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	return s.store.ChatsForUser(ctx, userID)
}

// ChatDetail returns participants and history for a chat, oldest-first.
func (s *Service) ChatDetail(ctx context.Context, chatID int64) (ChatDetail, error) {
	if chatID <= 0 {
		return ChatDetail{}, fmt.Errorf("%w: chat_id is required", ErrInvalidArgument)
	}
	return s.store.ChatDetail(ctx, chatID)
}

// ListMessages returns a chat's messages oldest-first.
func (s *Service) ListMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if chatID <= 0 {
		return nil, fmt.Errorf("%w: chat_id is required", ErrInvalidArgument)
	}
	return s.store.ListMessages(ctx, chatID, limit)
}
