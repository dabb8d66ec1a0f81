// Package main provides a CI-friendly smoke test for the Parley chat core.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - join echo
//   - HTTP send -> message.new fanout to every joined session
//   - leave stops delivery
//   - history fetch over the HTTP API contains the committed message
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "parley/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "parley.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

type sendMessageRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text"`
}

type sentMessage struct {
	MessageID int64     `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type chatDetail struct {
	ChatID   int64         `json:"chat_id"`
	Messages []sentMessage `json:"messages"`
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL   = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		sender   = flag.Int64("sender", 7, "Sender user id (must exist)")
		receiver = flag.Int64("receiver", 9, "Receiver user id (must exist)")
		text     = flag.String("text", "hello parley", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	// Resolve the chat first so both sessions can join its room before the send.
	probe := mustSendHTTP(*apiURL, *sender, *receiver, "smoke: warm-up", *timeout)
	chatID := probe.ChatID

	mustJoin(root, a, chatID, *timeout)
	mustJoin(root, b, chatID, *timeout)

	sent := mustSendHTTP(*apiURL, *sender, *receiver, *text, *timeout)
	if sent.ChatID != chatID {
		fatalf("send landed in chat %d, want %d", sent.ChatID, chatID)
	}

	mustAssertNew(root, a, sent, *timeout)
	mustAssertNew(root, b, sent, *timeout)

	// After leaving, B must not see further messages for this chat.
	mustLeave(root, b, chatID, *timeout)

	second := mustSendHTTP(*apiURL, *sender, *receiver, *text+" (after leave)", *timeout)
	mustAssertNew(root, a, second, *timeout)
	mustAssertNoType(root, b, v1.TypeMessageNew, 1200*time.Millisecond)

	mustHistoryContains(*apiURL, chatID, sent, *timeout)

	fmt.Printf("OK: A=%s B=%s chat_id=%d message_id=%d\n", a.sessionID, b.sessionID, chatID, sent.MessageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, chatID int64, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ChatJoinPayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeChatJoin, stepTimeout, nil)

	var p v1.ChatJoinPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("join echo chat_id mismatch (%s): got=%d want=%d", c.name, p.ChatID, chatID)
	}
}

func mustLeave(parent context.Context, c *smokeClient, chatID int64, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatLeave,
		ID:      fmt.Sprintf("%s-leave", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ChatLeavePayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustSendHTTP(apiURL string, senderID, receiverID int64, text string, stepTimeout time.Duration) sentMessage {
	body := mustJSON(sendMessageRequest{SenderID: senderID, ReceiverID: receiverID, Text: text})

	client := &http.Client{Timeout: stepTimeout}
	resp, err := client.Post(apiURL+"/api/chats/message", "application/json", strings.NewReader(string(body)))
	if err != nil {
		fatalf("http send: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("http send: read body: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		fatalf("http send: status=%d body=%s", resp.StatusCode, raw)
	}

	var msg sentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		fatalf("http send: unmarshal: %v", err)
	}
	if msg.MessageID <= 0 || msg.ChatID <= 0 {
		fatalf("http send: invalid ids in response: %s", raw)
	}
	return msg
}

func mustHistoryContains(apiURL string, chatID int64, want sentMessage, stepTimeout time.Duration) {
	client := &http.Client{Timeout: stepTimeout}
	resp, err := client.Get(fmt.Sprintf("%s/api/chats/%d", apiURL, chatID))
	if err != nil {
		fatalf("http history: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("http history: read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		fatalf("http history: status=%d body=%s", resp.StatusCode, raw)
	}

	var detail chatDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		fatalf("http history: unmarshal: %v", err)
	}
	if detail.ChatID != chatID {
		fatalf("http history: chat_id mismatch: got=%d want=%d", detail.ChatID, chatID)
	}

	for _, m := range detail.Messages {
		if m.MessageID == want.MessageID && m.Text == want.Text && m.SenderID == want.SenderID {
			return
		}
	}
	fatalf("http history: missing message id=%d", want.MessageID)
}

func mustAssertNew(parent context.Context, c *smokeClient, want sentMessage, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, nil)

	var p v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.new payload (%s): %v", c.name, err)
	}

	if p.ChatID != want.ChatID {
		fatalf("new chat_id mismatch (%s): got=%d want=%d", c.name, p.ChatID, want.ChatID)
	}
	if p.MessageID != want.MessageID {
		fatalf("new message_id mismatch (%s): got=%d want=%d", c.name, p.MessageID, want.MessageID)
	}
	if p.SenderID != want.SenderID {
		fatalf("new sender_id mismatch (%s): got=%d want=%d", c.name, p.SenderID, want.SenderID)
	}
	if p.Text != want.Text {
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Text, want.Text)
	}
	if p.CreatedAt.IsZero() {
		fatalf("new created_at missing/zero (%s)", c.name)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
