package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Direct-chat resolution takes a transactional advisory lock on the
//     canonicalized user pair, so concurrent callers for the same pair
//     serialize through lookup+create and at most one chat is created.
//     The UNIQUE (user_lo, user_hi) index backstops the lock: a loser of
//     the race retries the transaction and returns the winner's chat id.
//   - Appends take a transactional advisory lock on the chat, so
//     created_at values assigned by clock_timestamp() are non-decreasing
//     in commit order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "parley",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const defaultListLimit = 500

// ResolveOrCreateDirectChat returns the unique chat between two users,
// creating it when absent. See the type doc for the concurrency model.
func (s *PostgresStore) ResolveOrCreateDirectChat(ctx context.Context, userA, userB int64) (ResolveResult, error) {
	if s == nil || s.pool == nil {
		return ResolveResult{}, errors.New("chat: nil store")
	}
	if userA == userB || userA <= 0 || userB <= 0 {
		return ResolveResult{}, fmt.Errorf("%w: users must be two distinct known users", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return ResolveResult{}, err
	}

	var res ResolveResult
	err := s.withPairRetry(ctx, func(tx pgx.Tx) error {
		r, err := s.resolveOrCreateTx(ctx, tx, userA, userB)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return ResolveResult{}, err
	}
	return res, nil
}

// AppendMessage appends a message to an existing chat. Membership is
// checked inside the same transaction as the insert.
func (s *PostgresStore) AppendMessage(ctx context.Context, chatID, senderID int64, text string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := validateText(text); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := s.appendTx(ctx, tx, chatID, senderID, strings.TrimSpace(text))
	if err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, storeErr(err)
	}
	return msg, nil
}

// SendMessage resolves or creates the direct chat and appends the message
// in one transaction, so a pre-commit failure leaves no partial state.
func (s *PostgresStore) SendMessage(ctx context.Context, senderID, receiverID int64, text string) (Message, bool, error) {
	if s == nil || s.pool == nil {
		return Message{}, false, errors.New("chat: nil store")
	}
	if senderID == receiverID || senderID <= 0 || receiverID <= 0 {
		return Message{}, false, fmt.Errorf("%w: sender and receiver must be two distinct known users", ErrInvalidArgument)
	}
	if err := validateText(text); err != nil {
		return Message{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	var (
		msg     Message
		created bool
	)
	err := s.withPairRetry(ctx, func(tx pgx.Tx) error {
		res, err := s.resolveOrCreateTx(ctx, tx, senderID, receiverID)
		if err != nil {
			return err
		}

		m, err := s.appendTx(ctx, tx, res.ChatID, senderID, strings.TrimSpace(text))
		if err != nil {
			return err
		}

		msg = m
		created = res.Created
		return nil
	})
	if err != nil {
		return Message{}, false, err
	}
	return msg, created, nil
}

// ListMessages returns messages ordered by (created_at, id) ASC.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, text, created_at
		   FROM `+messages+`
		  WHERE chat_id = $1
		  ORDER BY created_at ASC, id ASC
		  LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, 64)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	// Distinguish an empty chat from a missing one. Only worth a second
	// query when no rows came back.
	if len(msgs) == 0 {
		chats := pgIdent(s.schema, "chats")

		var one int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+chats+` WHERE id = $1`, chatID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
		}
		if err != nil {
			return nil, storeErr(err)
		}
	}
	return msgs, nil
}

// LastMessagePreview returns the most recent message, or nil when empty.
// Ordering matches ListMessages: latest by (created_at, id).
func (s *PostgresStore) LastMessagePreview(ctx context.Context, chatID int64) (*MessagePreview, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	var p MessagePreview
	err := s.pool.QueryRow(ctx,
		`SELECT text, created_at
		   FROM `+messages+`
		  WHERE chat_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1`,
		chatID,
	).Scan(&p.Text, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &p, nil
}

// ChatsForUser returns the chat-list rows for one user, most recently
// active first. Chats with no messages sort last, by chat creation.
func (s *PostgresStore) ChatsForUser(ctx context.Context, userID int64) ([]ChatSummary, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")
	users := pgIdent(s.schema, "users")
	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.created_at, u.id, u.name, lm.text, lm.created_at
		   FROM `+members+` cm
		   JOIN `+chats+` c ON c.id = cm.chat_id
		   JOIN `+members+` o ON o.chat_id = cm.chat_id AND o.user_id <> cm.user_id
		   JOIN `+users+` u ON u.id = o.user_id
		   LEFT JOIN LATERAL (
		        SELECT m.text, m.created_at
		          FROM `+messages+` m
		         WHERE m.chat_id = c.id
		         ORDER BY m.created_at DESC, m.id DESC
		         LIMIT 1
		   ) lm ON true
		  WHERE cm.user_id = $1
		  ORDER BY (lm.created_at IS NULL) ASC,
		           COALESCE(lm.created_at, c.created_at) DESC,
		           c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]ChatSummary, 0, 16)
	for rows.Next() {
		var (
			sum      ChatSummary
			lastText *string
			lastAt   *time.Time
		)
		if err := rows.Scan(&sum.ChatID, &sum.CreatedAt, &sum.Other.ID, &sum.Other.Name, &lastText, &lastAt); err != nil {
			return nil, storeErr(err)
		}
		if lastText != nil && lastAt != nil {
			sum.LastMessage = &MessagePreview{Text: *lastText, CreatedAt: *lastAt}
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// ChatDetail returns participants plus full history, oldest-first.
func (s *PostgresStore) ChatDetail(ctx context.Context, chatID int64) (ChatDetail, error) {
	if s == nil || s.pool == nil {
		return ChatDetail{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return ChatDetail{}, err
	}

	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")
	users := pgIdent(s.schema, "users")

	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+chats+` WHERE id = $1`, chatID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatDetail{}, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}
	if err != nil {
		return ChatDetail{}, storeErr(err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name
		   FROM `+members+` cm
		   JOIN `+users+` u ON u.id = cm.user_id
		  WHERE cm.chat_id = $1
		  ORDER BY u.id ASC`,
		chatID,
	)
	if err != nil {
		return ChatDetail{}, storeErr(err)
	}
	defer rows.Close()

	detail := ChatDetail{ChatID: chatID}
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return ChatDetail{}, storeErr(err)
		}
		detail.Participants = append(detail.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return ChatDetail{}, storeErr(err)
	}

	msgs, err := s.ListMessages(ctx, chatID, 0)
	if err != nil {
		return ChatDetail{}, err
	}
	detail.Messages = msgs
	return detail, nil
}

// ---- transaction bodies ----

// withPairRetry runs fn inside a transaction and retries once when the
// pair uniqueness constraint fires. The constraint only fires when a
// competing creator commits between our lookup and insert (e.g. another
// process not holding the advisory lock); the retry then finds the
// winner's chat and returns it.
func (s *PostgresStore) withPairRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	const attempts = 2

	var lastErr error
	for i := 0; i < attempts; i++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.ReadCommitted,
			AccessMode: pgx.ReadWrite,
		})
		if err != nil {
			return storeErr(err)
		}

		err = fn(tx)
		if err == nil {
			if err = tx.Commit(ctx); err == nil {
				return nil
			}
		}
		_ = tx.Rollback(ctx)

		if isUniqueViolation(err) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("%w: pair constraint retry exhausted: %v", ErrDataIntegrity, lastErr)
}

func (s *PostgresStore) resolveOrCreateTx(ctx context.Context, tx pgx.Tx, userA, userB int64) (ResolveResult, error) {
	lo, hi := CanonicalPair(userA, userB)

	users := pgIdent(s.schema, "users")
	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")

	// Serialize lookup+create per pair so concurrent callers never both
	// take the creating path. hashtextextended reduces collision risk vs
	// hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		pairLockKey(lo, hi),
	); err != nil {
		return ResolveResult{}, fmt.Errorf("advisory lock: %w", storeErr(err))
	}

	var known int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+users+` WHERE id = ANY($1)`,
		[]int64{lo, hi},
	).Scan(&known); err != nil {
		return ResolveResult{}, storeErr(err)
	}
	if known != 2 {
		return ResolveResult{}, fmt.Errorf("%w: unknown user in pair (%d, %d)", ErrInvalidArgument, userA, userB)
	}

	rows, err := tx.Query(ctx,
		`SELECT id FROM `+chats+` WHERE user_lo = $1 AND user_hi = $2`,
		lo, hi,
	)
	if err != nil {
		return ResolveResult{}, storeErr(err)
	}
	ids := make([]int64, 0, 1)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return ResolveResult{}, storeErr(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ResolveResult{}, storeErr(err)
	}

	switch {
	case len(ids) == 1:
		return ResolveResult{ChatID: ids[0]}, nil
	case len(ids) > 1:
		return ResolveResult{}, fmt.Errorf("%w: %d chats for pair (%d, %d)", ErrDataIntegrity, len(ids), lo, hi)
	}

	var chatID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+chats+` (user_lo, user_hi) VALUES ($1, $2) RETURNING id`,
		lo, hi,
	).Scan(&chatID); err != nil {
		if isUniqueViolation(err) {
			return ResolveResult{}, err
		}
		return ResolveResult{}, storeErr(err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+members+` (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
		chatID, lo, hi,
	); err != nil {
		return ResolveResult{}, storeErr(err)
	}

	return ResolveResult{ChatID: chatID, Created: true}, nil
}

func (s *PostgresStore) appendTx(ctx context.Context, tx pgx.Tx, chatID, senderID int64, text string) (Message, error) {
	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")
	messages := pgIdent(s.schema, "messages")

	// Serialize appends per chat so clock_timestamp() values commit in
	// non-decreasing order.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		chatLockKey(chatID),
	); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", storeErr(err))
	}

	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM `+chats+` WHERE id = $1`, chatID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
	}
	if err != nil {
		return Message{}, storeErr(err)
	}

	err = tx.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, senderID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: sender %d is not a member of chat %d", ErrInvalidArgument, senderID, chatID)
	}
	if err != nil {
		return Message{}, storeErr(err)
	}

	m := Message{ChatID: chatID, SenderID: senderID, Text: text}
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (chat_id, sender_id, text, created_at)
		 VALUES ($1, $2, $3, clock_timestamp())
		 RETURNING id, created_at`,
		chatID, senderID, text,
	).Scan(&m.ID, &m.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", storeErr(err))
	}
	return m, nil
}

// ---- helpers ----

func validateText(text string) error {
	t := strings.TrimSpace(text)
	if t == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidArgument)
	}
	if len([]rune(t)) > MaxMessageChars {
		return fmt.Errorf("%w: text exceeds %d chars", ErrInvalidArgument, MaxMessageChars)
	}
	return nil
}

func pairLockKey(lo, hi int64) string {
	return fmt.Sprintf("parley:direct:%d:%d", lo, hi)
}

func chatLockKey(chatID int64) string {
	return fmt.Sprintf("parley:chat:%d", chatID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// storeErr wraps transport/transaction failures as retryable.
// Taxonomy sentinels pass through untouched.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDataIntegrity) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
