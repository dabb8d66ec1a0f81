package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records every published message.
type capturePublisher struct {
	mu   sync.Mutex
	msgs []Message
}

func (p *capturePublisher) Publish(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *capturePublisher) published() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// faultyStore simulates a store failure before commit.
type faultyStore struct {
	Store
}

var errInjected = errors.New("injected store fault")

func (f faultyStore) SendMessage(context.Context, int64, int64, string) (Message, bool, error) {
	return Message{}, false, errInjected
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *capturePublisher) {
	t.Helper()

	store := newSeededStore(t)
	pub := &capturePublisher{}
	return NewService(nil, store, pub), store, pub
}

func TestService_SendMessage_PublishesAfterCommit(t *testing.T) {
	t.Parallel()

	svc, store, pub := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, 7, 9, "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.SenderID)
	assert.Equal(t, "hi", msg.Text)

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0])

	// The reversed pair resolves to the same chat.
	chatID, err := svc.ResolveOrCreateDirectChat(ctx, 9, 7)
	require.NoError(t, err)
	assert.Equal(t, msg.ChatID, chatID)

	msgs, err := store.ListMessages(ctx, msg.ChatID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg, msgs[0])
}

func TestService_SendMessage_Rejections(t *testing.T) {
	t.Parallel()

	svc, _, pub := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		sender   int64
		receiver int64
		text     string
	}{
		{name: "empty text", sender: 7, receiver: 9, text: ""},
		{name: "whitespace text", sender: 7, receiver: 9, text: " \t "},
		{name: "self message", sender: 7, receiver: 7, text: "hi"},
		{name: "zero sender", sender: 0, receiver: 9, text: "hi"},
		{name: "unknown receiver", sender: 7, receiver: 42, text: "hi"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tc.sender, tc.receiver, tc.text)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	assert.Empty(t, pub.published(), "rejected sends must not publish")
}

func TestService_SendMessage_StoreFault_NoPublish(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	svc := NewService(nil, faultyStore{Store: newSeededStore(t)}, pub)

	_, err := svc.SendMessage(context.Background(), 7, 9, "hi")
	require.ErrorIs(t, err, errInjected)
	assert.Empty(t, pub.published(), "a failed send must not broadcast")
}

func TestService_Reads_ValidateIDs(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ChatsForUser(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.ChatDetail(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.ListMessages(ctx, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
