package v1

import (
	"encoding/json"
	"testing"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "hello", env: Envelope{V: Version, Type: TypeHello}},
		{name: "chat join", env: Envelope{V: Version, Type: TypeChatJoin}},
		{name: "message new", env: Envelope{V: Version, Type: TypeMessageNew}},
		{name: "error", env: Envelope{V: Version, Type: TypeError}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "chat.rename"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.env.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEnvelope_WireShape(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"v":"v1","type":"chat.join","payload":{"chat_id":42}}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var p ChatJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ChatID != 42 {
		t.Fatalf("chat_id = %d, want 42", p.ChatID)
	}
}
