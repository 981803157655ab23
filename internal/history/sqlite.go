package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// tsLayout is fixed-width (no fractional-second trimming) so stored UTC
// timestamps sort lexicographically in chronological order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history store: open: %w", err)
	}

	// WAL for concurrent reads while the router is writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat ON chat_messages(chat_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_role ON chat_messages(chat_id, role, created_at);
	`)
	if err != nil {
		return fmt.Errorf("history store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(msg protocol.HistoryMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO chat_messages (id, chat_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.UserID, msg.Role, msg.Content, msg.CreatedAt.UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("history store: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(chatID string, limit int) ([]protocol.HistoryMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, user_id, role, content, created_at
		FROM chat_messages WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.HistoryMessage
	for rows.Next() {
		var m protocol.HistoryMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("history store: scan: %w", err)
		}
		m.CreatedAt, _ = time.Parse(tsLayout, ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; callers want chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) IsFirstAssistantReplyToday(chatID string, now time.Time) (bool, error) {
	var last sql.NullString
	err := s.db.QueryRow(`
		SELECT MAX(created_at) FROM chat_messages
		WHERE chat_id = ? AND role = ?`, chatID, protocol.RoleAssistant).Scan(&last)
	if err != nil {
		return false, fmt.Errorf("history store: last assistant: %w", err)
	}
	if !last.Valid || last.String == "" {
		return true, nil
	}
	ts, err := time.Parse(tsLayout, last.String)
	if err != nil {
		return true, nil
	}
	ly, lm, ld := ts.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd, nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
