// Package v1 defines the Parley chat wire protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeChatJoin subscribes the session to a chat room (client -> server) and is echoed back.
	TypeChatJoin = "chat.join"
	// TypeChatLeave unsubscribes the session from a chat room (client -> server).
	TypeChatLeave = "chat.leave"

	// TypeMessageNew pushes a newly committed message (server -> room subscribers).
	TypeMessageNew = "message.new"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeChatJoin,
		TypeChatLeave,
		TypeMessageNew,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// ChatJoinPayload subscribes the session to a chat's live feed.
// A join only grants delivery of messages committed after it completes;
// earlier history is fetched over the HTTP API.
type ChatJoinPayload struct {
	ChatID int64 `json:"chat_id"`
}

// ChatLeavePayload unsubscribes the session from a chat's live feed.
type ChatLeavePayload struct {
	ChatID int64 `json:"chat_id"`
}

// MessageNewPayload is pushed to every room subscriber when a message commits.
type MessageNewPayload struct {
	MessageID int64     `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
