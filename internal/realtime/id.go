package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"parley/internal/ids"
)

// NewSessionID returns a ULID used as the websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as a wire envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewRandomHex returns a cryptographically secure random hex string of length 2*nBytes.
// Fallback id source when ULID generation fails.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}

	return hex.EncodeToString(b)
}
