package realtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestGateway(t *testing.T, originRequired bool, allowed string) *Gateway {
	t.Helper()

	t.Setenv("PARLEY_WS_ORIGIN_REQUIRED", boolStr(originRequired))
	t.Setenv("PARLEY_WS_ALLOWED_ORIGINS", allowed)
	return NewGateway(nil, NewRegistry(nil))
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestGateway_EnforceOrigin(t *testing.T) {
	cases := []struct {
		name     string
		required bool
		allowed  string
		origin   string
		wantErr  bool
	}{
		{name: "allowed full origin", required: true, allowed: "http://localhost", origin: "http://localhost"},
		{name: "allowed host with port", required: true, allowed: "http://localhost", origin: "http://localhost:3000"},
		{name: "allowed second entry", required: true, allowed: "http://a.example,http://b.example", origin: "http://b.example"},
		{name: "wildcard honored", required: true, allowed: "*", origin: "http://anywhere.example"},
		{name: "missing origin required", required: true, allowed: "http://localhost", origin: "", wantErr: true},
		{name: "missing origin optional", required: false, allowed: "http://localhost", origin: ""},
		{name: "disallowed origin", required: true, allowed: "http://localhost", origin: "http://evil.example", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGateway(t, tc.required, tc.allowed)

			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}

			err := g.enforceOrigin(r)
			if tc.wantErr && err == nil {
				t.Fatalf("expected rejection, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
		})
	}
}

func TestGateway_RejectsBadOriginWithForbidden(t *testing.T) {
	g := newTestGateway(t, true, "http://localhost")

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()

	g.HandleWS(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestOriginHostOnly(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://localhost", "localhost"},
		{"http://localhost:3000", "localhost"},
		{"https://Chat.Example:443", "chat.example"},
		{"localhost:8080", "localhost"},
		{"localhost", "localhost"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Errorf("originHostOnly(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost",
		"http://localhost:3000",
		"https://chat.example",
		"*",
		"",
	})

	want := []string{"chat.example", "localhost"}
	if len(got) != len(want) {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("patterns = %v, want %v", got, want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PARLEY_TEST_BOOL", "true")
	t.Setenv("PARLEY_TEST_INT", "42")
	t.Setenv("PARLEY_TEST_DUR", "3s")
	t.Setenv("PARLEY_TEST_CSV", " a , ,b ")

	if !envBoolWS("PARLEY_TEST_BOOL", false) {
		t.Error("envBoolWS: want true")
	}
	if envBoolWS("PARLEY_TEST_MISSING", true) != true {
		t.Error("envBoolWS: default not honored")
	}
	if got := envIntWS("PARLEY_TEST_INT", 1); got != 42 {
		t.Errorf("envIntWS = %d, want 42", got)
	}
	if got := envIntWS("PARLEY_TEST_MISSING", 7); got != 7 {
		t.Errorf("envIntWS default = %d, want 7", got)
	}
	if got := envDurationWS("PARLEY_TEST_DUR", time.Second); got != 3*time.Second {
		t.Errorf("envDurationWS = %v, want 3s", got)
	}
	csv := envCSVWS("PARLEY_TEST_CSV", "")
	if len(csv) != 2 || csv[0] != "a" || csv[1] != "b" {
		t.Errorf("envCSVWS = %v, want [a b]", csv)
	}
}
