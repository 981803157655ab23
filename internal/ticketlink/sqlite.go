package ticketlink

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticketlink store: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticketlink store: wal: %w", err)
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
		CREATE TABLE IF NOT EXISTS ticket_links (
			ticket_id       TEXT PRIMARY KEY,
			chat_id         TEXT NOT NULL,
			user_id         TEXT NOT NULL DEFAULT '',
			kind            TEXT NOT NULL DEFAULT 'question',
			title           TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT '',
			last_comment_id TEXT NOT NULL DEFAULT '',
			is_active       INTEGER NOT NULL DEFAULT 1,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_links_chat ON ticket_links(chat_id, kind, is_active, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ticketlink store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(l *Link) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO ticket_links (ticket_id, chat_id, user_id, kind, title, status, last_comment_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket_id) DO UPDATE SET
			chat_id=excluded.chat_id, user_id=excluded.user_id, kind=excluded.kind,
			title=excluded.title, status=excluded.status,
			last_comment_id=excluded.last_comment_id, is_active=excluded.is_active
	`, l.TicketID, l.ChatID, l.UserID, string(l.Kind), l.Title, l.Status,
		l.LastCommentID, boolToInt(l.IsActive), l.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ticketlink store: upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ticketID string) (*Link, error) {
	row := s.db.QueryRow(`
		SELECT ticket_id, chat_id, user_id, kind, title, status, last_comment_id, is_active, created_at
		FROM ticket_links WHERE ticket_id = ?`, ticketID)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticketlink store: get: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) LatestActive(chatID string, kind Kind) (*Link, error) {
	row := s.db.QueryRow(`
		SELECT ticket_id, chat_id, user_id, kind, title, status, last_comment_id, is_active, created_at
		FROM ticket_links
		WHERE chat_id = ? AND kind = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1`, chatID, string(kind))
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticketlink store: latest active: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) SetWatermark(ticketID, commentID string) error {
	res, err := s.db.Exec(`UPDATE ticket_links SET last_comment_id = ? WHERE ticket_id = ?`, commentID, ticketID)
	if err != nil {
		return fmt.Errorf("ticketlink store: set watermark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticketlink store: ticket %q not linked", ticketID)
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ticketID, status string, active bool) error {
	res, err := s.db.Exec(`UPDATE ticket_links SET status = ?, is_active = ? WHERE ticket_id = ?`,
		status, boolToInt(active), ticketID)
	if err != nil {
		return fmt.Errorf("ticketlink store: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticketlink store: ticket %q not linked", ticketID)
	}
	return nil
}

func (s *SQLiteStore) CountActive() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ticket_links WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ticketlink store: count active: %w", err)
	}
	return n, nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func scanLink(row *sql.Row) (*Link, error) {
	var l Link
	var kind, createdAt string
	var active int
	err := row.Scan(&l.TicketID, &l.ChatID, &l.UserID, &kind, &l.Title, &l.Status,
		&l.LastCommentID, &active, &createdAt)
	if err != nil {
		return nil, err
	}
	l.Kind = Kind(kind)
	l.IsActive = active != 0
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &l, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
