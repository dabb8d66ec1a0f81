package realtime

import (
	"log/slog"
	"sync"

	"parley/internal/metrics"
)

// Registry owns the in-memory mapping from chat id to the set of live
// sessions subscribed to that chat's room. It holds no durable state and
// is rebuilt empty on process restart.
//
// Concurrency guarantees:
// - Join/Leave/DropConnection are safe under concurrent SubscribersOf.
// - Join is idempotent per (chat, session).
// - Unknown chat or session ids are no-ops, not errors: connections may
//   disconnect mid-flight.
//
// Callers must not hold store transactions while calling in, and the
// registry never calls out while holding its lock.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[int64]map[string]*Client
	conns map[string]map[int64]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		rooms: make(map[int64]map[string]*Client),
		conns: make(map[string]map[int64]struct{}),
	}
}

// Join subscribes a client's session to a chat's room.
func (r *Registry) Join(chatID int64, client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	room := r.rooms[chatID]
	if room == nil {
		room = make(map[string]*Client)
		r.rooms[chatID] = room
	}
	_, already := room[client.SessionID]
	room[client.SessionID] = client

	subs := r.conns[client.SessionID]
	if subs == nil {
		subs = make(map[int64]struct{})
		r.conns[client.SessionID] = subs
	}
	subs[chatID] = struct{}{}
	r.mu.Unlock()

	if !already {
		metrics.RoomSubscriptions.Inc()
		r.log.Info("room.join", "chat_id", chatID, "session_id", client.SessionID)
	}
}

// Leave unsubscribes a session from one room. The client stays open; it
// may still be subscribed to other rooms.
func (r *Registry) Leave(chatID int64, sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	removed := r.removeLocked(chatID, sessionID)
	r.mu.Unlock()

	if removed {
		metrics.RoomSubscriptions.Dec()
		r.log.Info("room.leave", "chat_id", chatID, "session_id", sessionID)
	}
}

// DropConnection removes a session from every room it was in and signals
// the client to shut down.
func (r *Registry) DropConnection(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	var cl *Client
	removed := 0

	r.mu.Lock()
	for chatID := range r.conns[sessionID] {
		if room := r.rooms[chatID]; room != nil {
			if c, ok := room[sessionID]; ok {
				cl = c
			}
		}
		if r.removeLocked(chatID, sessionID) {
			removed++
		}
	}
	delete(r.conns, sessionID)
	r.mu.Unlock()

	// Signal client shutdown after removing from membership.
	// This ordering avoids race windows where a broadcaster still holds a
	// pointer while the client goroutines are being torn down.
	if cl != nil {
		cl.Close()
	}

	metrics.RoomSubscriptions.Sub(float64(removed))
	if removed > 0 {
		r.log.Info("room.drop_connection", "session_id", sessionID, "rooms", removed)
	}
}

// SubscribersOf returns a snapshot of the room's current clients.
func (r *Registry) SubscribersOf(chatID int64) []*Client {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[chatID]
	if len(room) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// removeLocked deletes one (chat, session) subscription. Caller holds mu.
func (r *Registry) removeLocked(chatID int64, sessionID string) bool {
	room := r.rooms[chatID]
	if room == nil {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.rooms, chatID)
	}
	if subs := r.conns[sessionID]; subs != nil {
		delete(subs, chatID)
		if len(subs) == 0 {
			delete(r.conns, sessionID)
		}
	}
	return true
}
