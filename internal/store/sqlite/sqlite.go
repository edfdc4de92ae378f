package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lumachat/gateway/internal/store"
)

// Store implements the message, conversation, and contact stores on SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL DEFAULT 'direct',
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	joined_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL DEFAULT 'text',
	content         TEXT NOT NULL DEFAULT '',
	attachments     TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS deliveries (
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	status     INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS last_messages (
	conversation_id TEXT PRIMARY KEY,
	message_id      TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	preview         TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	user_id    TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	PRIMARY KEY (user_id, contact_id)
);
`

// status ranks stored in the deliveries table.
const (
	statusQueued    = 0
	statusDelivered = 1
	statusRead      = 2
)

// New opens (or creates) the store at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithSetup opens the store and runs an extra setup function after the
// schema. Useful for tests seeding conversations and contacts.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*Store, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==== MessageStore ====

// CreateMessage persists a message with its server-assigned id.
func (s *Store) CreateMessage(ctx context.Context, m *store.Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, type, content, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Type, m.Content, string(attachments), m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, type, content, attachments, created_at
		FROM messages WHERE id = ?
	`
	var m store.Message
	var attachments string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Type, &m.Content, &attachments, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return &m, nil
}

// MarkDelivered advances the (message, user) status to delivered. The
// UPDATE guard keeps the transition monotonic: a read message never
// regresses to delivered. Unknown message ids report no change.
func (s *Store) MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	return s.advance(ctx, messageID, userID, statusDelivered, at)
}

// MarkRead advances the (message, user) status to read. Marking an
// already-read message again is a no-op. Unknown message ids report no
// change.
func (s *Store) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	return s.advance(ctx, messageID, userID, statusRead, at)
}

func (s *Store) advance(ctx context.Context, messageID, userID string, target int, at time.Time) (bool, error) {
	// The SELECT scopes the insert to existing messages: a fabricated id
	// affects no rows and the caller broadcasts nothing.
	query := `
		INSERT INTO deliveries (message_id, user_id, status, updated_at)
		SELECT m.id, ?, ?, ? FROM messages m WHERE m.id = ?
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status = excluded.status, updated_at = excluded.updated_at
		WHERE deliveries.status < excluded.status
	`
	res, err := s.db.ExecContext(ctx, query, userID, target, at, messageID)
	if err != nil {
		return false, fmt.Errorf("advance delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeliveryState returns the current status for a (message, user) pair.
func (s *Store) DeliveryState(ctx context.Context, messageID, userID string) (store.DeliveryStatus, error) {
	var status int
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM deliveries WHERE message_id = ? AND user_id = ?`,
		messageID, userID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DeliveryQueued, store.ErrNotFound
	}
	if err != nil {
		return store.DeliveryQueued, fmt.Errorf("select delivery: %w", err)
	}
	switch status {
	case statusRead:
		return store.DeliveryRead, nil
	case statusDelivered:
		return store.DeliveryDelivered, nil
	default:
		return store.DeliveryQueued, nil
	}
}

// ==== ConversationStore ====

// Participants returns the user ids of all conversation members.
func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ?`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select participant: %w", err)
	}
	return true, nil
}

// SetLastMessage updates the conversation's cached last-message view.
func (s *Store) SetLastMessage(ctx context.Context, lm *store.LastMessage) error {
	query := `
		INSERT INTO last_messages (conversation_id, message_id, sender_id, preview, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE
		SET message_id = excluded.message_id, sender_id = excluded.sender_id,
		    preview = excluded.preview, created_at = excluded.created_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		lm.ConversationID, lm.MessageID, lm.SenderID, lm.Preview, lm.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert last message: %w", err)
	}
	return nil
}

// GetLastMessage retrieves the cached view.
func (s *Store) GetLastMessage(ctx context.Context, conversationID string) (*store.LastMessage, error) {
	var lm store.LastMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, message_id, sender_id, preview, created_at FROM last_messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&lm.ConversationID, &lm.MessageID, &lm.SenderID, &lm.Preview, &lm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select last message: %w", err)
	}
	return &lm, nil
}

// ==== ContactStore ====

// ContactsOf resolves a user's contacts for presence fan-out.
func (s *Store) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id FROM contacts WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
