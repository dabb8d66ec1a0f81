package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev and test fallback when DB is not configured.
// A single mutex is the serialization point, which gives it the same
// observable guarantees as the Postgres store: at most one chat per
// pair, and per-chat message order matching commit order.
type MemoryStore struct {
	mu sync.Mutex

	users   map[int64]string
	pairs   map[[2]int64]int64 // canonical pair -> chat id
	chats   map[int64]*memChat
	nextCID int64
	nextMID int64
}

type memChat struct {
	id        int64
	members   map[int64]struct{}
	msgs      []Message
	createdAt time.Time
	lastAt    time.Time
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]string),
		pairs: make(map[[2]int64]int64),
		chats: make(map[int64]*memChat),
	}
}

// AddUser registers a known user. The user store proper is an external
// collaborator; the core only needs existence and a display name.
func (s *MemoryStore) AddUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = name
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// ResolveOrCreateDirectChat returns the unique chat for the pair,
// creating it when absent.
func (s *MemoryStore) ResolveOrCreateDirectChat(ctx context.Context, userA, userB int64) (ResolveResult, error) {
	if err := ctx.Err(); err != nil {
		return ResolveResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveOrCreateLocked(userA, userB)
}

// AppendMessage appends to an existing chat after a membership check.
func (s *MemoryStore) AppendMessage(ctx context.Context, chatID, senderID int64, text string) (Message, error) {
	if err := validateText(text); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(chatID, senderID, strings.TrimSpace(text))
}

// SendMessage resolves or creates the chat and appends atomically: both
// happen under one lock hold, so a failed append never leaves a chat
// created by this call behind.
func (s *MemoryStore) SendMessage(ctx context.Context, senderID, receiverID int64, text string) (Message, bool, error) {
	if err := validateText(text); err != nil {
		return Message{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.resolveOrCreateLocked(senderID, receiverID)
	if err != nil {
		return Message{}, false, err
	}

	msg, err := s.appendLocked(res.ChatID, senderID, strings.TrimSpace(text))
	if err != nil {
		if res.Created {
			s.rollbackChatLocked(res.ChatID)
		}
		return Message{}, false, err
	}
	return msg, res.Created, nil
}

// ListMessages returns messages ordered by (created_at, id) ASC.
func (s *MemoryStore) ListMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[chatID]
	if c == nil {
		return nil, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}

	n := len(c.msgs)
	if n > limit {
		n = limit
	}
	out := make([]Message, n)
	copy(out, c.msgs[:n])
	return out, nil
}

// LastMessagePreview returns the latest message, or nil when empty.
func (s *MemoryStore) LastMessagePreview(ctx context.Context, chatID int64) (*MessagePreview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[chatID]
	if c == nil || len(c.msgs) == 0 {
		return nil, nil
	}
	last := c.msgs[len(c.msgs)-1]
	return &MessagePreview{Text: last.Text, CreatedAt: last.CreatedAt}, nil
}

// ChatsForUser returns chat summaries, most recently active first.
// Chats with no messages sort last, by chat creation.
func (s *MemoryStore) ChatsForUser(ctx context.Context, userID int64) ([]ChatSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChatSummary, 0, 8)
	for _, c := range s.chats {
		if _, ok := c.members[userID]; !ok {
			continue
		}

		sum := ChatSummary{ChatID: c.id, CreatedAt: c.createdAt}
		for m := range c.members {
			if m != userID {
				sum.Other = Participant{ID: m, Name: s.users[m]}
			}
		}
		if len(c.msgs) > 0 {
			last := c.msgs[len(c.msgs)-1]
			sum.LastMessage = &MessagePreview{Text: last.Text, CreatedAt: last.CreatedAt}
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.LastMessage == nil) != (b.LastMessage == nil) {
			return b.LastMessage == nil
		}
		at, bt := a.CreatedAt, b.CreatedAt
		if a.LastMessage != nil {
			at, bt = a.LastMessage.CreatedAt, b.LastMessage.CreatedAt
		}
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ChatID > b.ChatID
	})
	return out, nil
}

// ChatDetail returns participants plus full history, oldest-first.
func (s *MemoryStore) ChatDetail(ctx context.Context, chatID int64) (ChatDetail, error) {
	if err := ctx.Err(); err != nil {
		return ChatDetail{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[chatID]
	if c == nil {
		return ChatDetail{}, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}

	detail := ChatDetail{ChatID: chatID}
	for id := range c.members {
		detail.Participants = append(detail.Participants, Participant{ID: id, Name: s.users[id]})
	}
	sort.Slice(detail.Participants, func(i, j int) bool {
		return detail.Participants[i].ID < detail.Participants[j].ID
	})

	detail.Messages = make([]Message, len(c.msgs))
	copy(detail.Messages, c.msgs)
	return detail, nil
}

// ---- locked internals ----

func (s *MemoryStore) resolveOrCreateLocked(userA, userB int64) (ResolveResult, error) {
	if userA == userB || userA <= 0 || userB <= 0 {
		return ResolveResult{}, fmt.Errorf("%w: users must be two distinct known users", ErrInvalidArgument)
	}
	if _, ok := s.users[userA]; !ok {
		return ResolveResult{}, fmt.Errorf("%w: unknown user %d", ErrInvalidArgument, userA)
	}
	if _, ok := s.users[userB]; !ok {
		return ResolveResult{}, fmt.Errorf("%w: unknown user %d", ErrInvalidArgument, userB)
	}

	lo, hi := CanonicalPair(userA, userB)
	if id, ok := s.pairs[[2]int64{lo, hi}]; ok {
		return ResolveResult{ChatID: id}, nil
	}

	s.nextCID++
	c := &memChat{
		id:        s.nextCID,
		members:   map[int64]struct{}{lo: {}, hi: {}},
		createdAt: time.Now().UTC(),
	}
	s.chats[c.id] = c
	s.pairs[[2]int64{lo, hi}] = c.id
	return ResolveResult{ChatID: c.id, Created: true}, nil
}

func (s *MemoryStore) appendLocked(chatID, senderID int64, text string) (Message, error) {
	c := s.chats[chatID]
	if c == nil {
		return Message{}, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}
	if _, ok := c.members[senderID]; !ok {
		return Message{}, fmt.Errorf("%w: sender %d is not a member of chat %d", ErrInvalidArgument, senderID, chatID)
	}

	now := time.Now().UTC()
	// Keep created_at non-decreasing per chat even if the wall clock
	// reads equal across two appends.
	if now.Before(c.lastAt) {
		now = c.lastAt
	}
	c.lastAt = now

	s.nextMID++
	m := Message{
		ID:        s.nextMID,
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: now,
	}
	c.msgs = append(c.msgs, m)
	return m, nil
}

func (s *MemoryStore) rollbackChatLocked(chatID int64) {
	c := s.chats[chatID]
	if c == nil {
		return
	}
	delete(s.chats, chatID)
	for pair, id := range s.pairs {
		if id == chatID {
			delete(s.pairs, pair)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
