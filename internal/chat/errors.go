package chat

import "errors"

// Error taxonomy for the chat core.
//
// ErrInvalidArgument and ErrNotFound are terminal: callers must not retry.
// ErrStoreUnavailable is retryable from the top of the operation; chat
// creation is idempotent (the pair constraint guarantees at most one chat
// regardless of retry count) and appends are only attempted after a
// successful resolve.
// A lost create race is never surfaced: the loser re-reads and returns the
// winner's chat id.
var (
	// ErrInvalidArgument marks bad input: empty text, equal or unknown
	// users, a sender that is not a member of the chat.
	ErrInvalidArgument = errors.New("chat: invalid argument")

	// ErrNotFound marks a missing chat.
	ErrNotFound = errors.New("chat: not found")

	// ErrStoreUnavailable marks a transient persistent-store failure.
	ErrStoreUnavailable = errors.New("chat: store unavailable")

	// ErrDataIntegrity marks corrupted store state, e.g. more than one
	// chat for a single user pair. Never resolved by picking one.
	ErrDataIntegrity = errors.New("chat: data integrity violation")
)
