package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	v1 "parley/contracts/chat/v1"
	"parley/internal/chat"
	"parley/internal/metrics"
)

// Fanout delivers committed messages to every session currently in the
// message's room. It implements chat.Publisher.
//
// Delivery is best-effort and per-subscriber independent: a full queue
// or a closing client drops that one delivery and never blocks the
// sender or the other subscribers. A session joining after Publish
// returns does not receive the message; it reconciles via history.
type Fanout struct {
	log *slog.Logger
	reg *Registry
}

// NewFanout constructs a Fanout over a Registry.
func NewFanout(log *slog.Logger, reg *Registry) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{log: log, reg: reg}
}

// Publish fans one committed message out to the chat's room.
// Callers invoke it exactly once per message, after commit.
func (f *Fanout) Publish(msg chat.Message) {
	if f == nil || f.reg == nil {
		return
	}

	payload, err := json.Marshal(v1.MessageNewPayload{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		f.log.Error("fanout.encode.fail", "chat_id", msg.ChatID, "message_id", msg.ID, "err", err)
		return
	}
	env := NewEnvelope(v1.TypeMessageNew, payload, time.Now().UTC())

	for _, sub := range f.reg.SubscribersOf(msg.ChatID) {
		if sub.TrySend(env) {
			metrics.FanoutDelivered.Inc()
			continue
		}
		metrics.FanoutDropped.Inc()
		f.log.Info("fanout.drop", "chat_id", msg.ChatID, "message_id", msg.ID, "session_id", sub.SessionID)
	}
}

var _ chat.Publisher = (*Fanout)(nil)
