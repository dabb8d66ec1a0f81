package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCapturedLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestWithRequestLogging_CapturesStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf)

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), log)

	r := httptest.NewRequest(http.MethodGet, "/brew", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTeapot)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["msg"] != "http.request" {
		t.Fatalf("msg = %v, want http.request", entry["msg"])
	}
	if got := entry["status"].(float64); got != float64(http.StatusTeapot) {
		t.Fatalf("logged status = %v, want %d", got, http.StatusTeapot)
	}
	if got := entry["bytes"].(float64); got != float64(len("short and stout")) {
		t.Fatalf("logged bytes = %v, want %d", got, len("short and stout"))
	}
	if entry["path"] != "/brew" {
		t.Fatalf("logged path = %v, want /brew", entry["path"])
	}
}

func TestWithRequestLogging_ImplicitOKStatus(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf)

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), log)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if got := entry["status"].(float64); got != float64(http.StatusOK) {
		t.Fatalf("logged status = %v, want %d", got, http.StatusOK)
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, bufio.NewReadWriter(bufio.NewReader(c1), bufio.NewWriter(c1)), nil
}

func TestWithRequestLogging_PreservesHijacker(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf)

	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer must expose http.Hijacker")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		_ = conn.Close()
	}), log)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	h.ServeHTTP(inner, r)

	if !inner.hijacked {
		t.Fatal("hijack did not reach the underlying writer")
	}
}

func TestWithRequestLogging_HijackUnsupported(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf)

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// httptest.ResponseRecorder is not a Hijacker.
		if _, _, err := w.(http.Hijacker).Hijack(); err == nil {
			t.Fatal("expected hijack error on non-hijackable writer")
		}
	}), log)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	h.ServeHTTP(httptest.NewRecorder(), r)
}
