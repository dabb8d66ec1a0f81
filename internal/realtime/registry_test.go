package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	cl := NewClient("s1", 4)

	reg.Join(42, cl)
	reg.Join(42, cl)
	reg.Join(42, cl)

	subs := reg.SubscribersOf(42)
	require.Len(t, subs, 1)
	assert.Same(t, cl, subs[0])
}

func TestRegistry_LeaveRemovesOneRoomOnly(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	cl := NewClient("s1", 4)

	reg.Join(1, cl)
	reg.Join(2, cl)

	reg.Leave(1, cl.SessionID)

	assert.Empty(t, reg.SubscribersOf(1))
	require.Len(t, reg.SubscribersOf(2), 1)

	// The client stays open: Leave is a room-level operation.
	select {
	case <-cl.Done():
		t.Fatal("leave must not close the client")
	default:
	}
}

func TestRegistry_LeaveUnknownIsNoop(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	reg.Leave(99, "nope")

	cl := NewClient("s1", 4)
	reg.Join(1, cl)
	reg.Leave(1, "someone-else")

	require.Len(t, reg.SubscribersOf(1), 1)
}

func TestRegistry_DropConnection_CleansAllRooms(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	victim := NewClient("victim", 4)
	bystander := NewClient("bystander", 4)

	reg.Join(1, victim)
	reg.Join(2, victim)
	reg.Join(3, victim)
	reg.Join(2, bystander)

	reg.DropConnection(victim.SessionID)

	assert.Empty(t, reg.SubscribersOf(1))
	assert.Empty(t, reg.SubscribersOf(3))

	subs := reg.SubscribersOf(2)
	require.Len(t, subs, 1)
	assert.Equal(t, "bystander", subs[0].SessionID)

	select {
	case <-victim.Done():
	default:
		t.Fatal("dropped client must be signalled closed")
	}
	select {
	case <-bystander.Done():
		t.Fatal("other clients must not be closed")
	default:
	}

	// Dropping twice is safe.
	reg.DropConnection(victim.SessionID)
}

func TestRegistry_SubscribersOf_ReturnsSnapshot(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	a := NewClient("a", 4)
	b := NewClient("b", 4)
	reg.Join(7, a)
	reg.Join(7, b)

	snap := reg.SubscribersOf(7)
	require.Len(t, snap, 2)

	reg.DropConnection("a")

	// The earlier snapshot is unaffected by later membership changes.
	assert.Len(t, snap, 2)
	require.Len(t, reg.SubscribersOf(7), 1)
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)

	const workers = 32

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()

			cl := NewClient(fmt.Sprintf("s%d", i), 4)
			for j := 0; j < 50; j++ {
				reg.Join(int64(j%5), cl)
				_ = reg.SubscribersOf(int64(j % 5))
				if j%3 == 0 {
					reg.Leave(int64(j%5), cl.SessionID)
				}
			}
			reg.DropConnection(cl.SessionID)
		}()
	}
	wg.Wait()

	for chatID := int64(0); chatID < 5; chatID++ {
		assert.Empty(t, reg.SubscribersOf(chatID), "room %d must be empty after all drops", chatID)
	}
}
