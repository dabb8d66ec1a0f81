package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/chat"
)

func newTestServer(t *testing.T) (*httptest.Server, *chat.MemoryStore) {
	t.Helper()

	store := chat.NewMemoryStore()
	store.AddUser(7, "ana")
	store.AddUser(9, "bo")
	store.AddUser(11, "cyn")

	svc := chat.NewService(nil, store, nil)
	h, err := NewHandler(nil, svc)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp
}

func TestSendMessage_CreatesChatAndReturnsMessage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/chats/message",
		`{"sender_id":7,"receiver_id":9,"text":"hello bo"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	var msg chat.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Positive(t, msg.ID)
	assert.Positive(t, msg.ChatID)
	assert.Equal(t, int64(7), msg.SenderID)
	assert.Equal(t, "hello bo", msg.Text)
	assert.False(t, msg.CreatedAt.IsZero())

	// A second send lands in the same chat.
	resp2, body2 := postJSON(t, srv.URL+"/api/chats/message",
		`{"sender_id":9,"receiver_id":7,"text":"hi ana"}`)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)

	var msg2 chat.Message
	require.NoError(t, json.Unmarshal(body2, &msg2))
	assert.Equal(t, msg.ChatID, msg2.ChatID)
}

func TestSendMessage_Rejections(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "empty text", body: `{"sender_id":7,"receiver_id":9,"text":""}`, code: "invalid_argument"},
		{name: "whitespace text", body: `{"sender_id":7,"receiver_id":9,"text":"   "}`, code: "invalid_argument"},
		{name: "self message", body: `{"sender_id":7,"receiver_id":7,"text":"hi"}`, code: "invalid_argument"},
		{name: "missing sender", body: `{"receiver_id":9,"text":"hi"}`, code: "invalid_argument"},
		{name: "unknown field", body: `{"sender_id":7,"receiver_id":9,"text":"hi","x":1}`, code: "bad_json"},
		{name: "malformed json", body: `{"sender_id":7,`, code: "bad_json"},
		{name: "trailing garbage", body: `{"sender_id":7,"receiver_id":9,"text":"hi"} {}`, code: "bad_json"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp, body := postJSON(t, srv.URL+"/api/chats/message", tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", body)

			var er errorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.Equal(t, tc.code, er.Error.Code)
		})
	}
}

func TestSendMessage_UnknownUserRejected(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/chats/message",
		`{"sender_id":7,"receiver_id":999,"text":"hi"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", body)
}

func TestChatsForUser_ListsMostRecentFirst(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	for _, b := range []string{
		`{"sender_id":7,"receiver_id":9,"text":"to bo"}`,
		`{"sender_id":7,"receiver_id":11,"text":"to cyn"}`,
	} {
		resp, body := postJSON(t, srv.URL+"/api/chats/message", b)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)
	}

	var list []chat.ChatSummary
	resp := getJSON(t, srv.URL+"/api/chats/user/7", &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 2)

	assert.Equal(t, "cyn", list[0].Other.Name)
	assert.Equal(t, "bo", list[1].Other.Name)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "to cyn", list[0].LastMessage.Text)
}

func TestChatsForUser_InvalidID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	for _, raw := range []string{"0", "-3", "abc"} {
		resp := getJSON(t, srv.URL+"/api/chats/user/"+raw, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "id %q", raw)
	}
}

func TestChatDetail_ReturnsParticipantsAndHistory(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/chats/message",
		`{"sender_id":7,"receiver_id":9,"text":"one"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var first chat.Message
	require.NoError(t, json.Unmarshal(body, &first))

	resp2, _ := postJSON(t, srv.URL+"/api/chats/message",
		`{"sender_id":9,"receiver_id":7,"text":"two"}`)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)

	var detail chat.ChatDetail
	getResp := getJSON(t, fmt.Sprintf("%s/api/chats/%d", srv.URL, first.ChatID), &detail)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	assert.Equal(t, first.ChatID, detail.ChatID)
	require.Len(t, detail.Participants, 2)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "one", detail.Messages[0].Text)
	assert.Equal(t, "two", detail.Messages[1].Text)
}

func TestChatDetail_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/api/chats/424242", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
