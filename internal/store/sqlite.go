package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS xmpt_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	thread_id  TEXT NOT NULL,
	direction  TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
	sender     TEXT NOT NULL DEFAULT '',
	recipient  TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	metadata   TEXT,
	created_at TEXT NOT NULL,
	peer       TEXT NOT NULL DEFAULT '',
	task_id    TEXT NOT NULL DEFAULT '',
	stored_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_xmpt_messages_thread ON xmpt_messages (thread_id, seq);
`

// SQLite is an xmpt.Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath. ":memory:"
// gives a private in-memory database.
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// single connection keeps ":memory:" shared and serialises writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, rec xmpt.Record) error {
	r, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO xmpt_messages (id, thread_id, direction, sender, recipient, content, metadata, created_at, peer, task_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, r.Direction, r.Sender, r.Recipient, string(r.Content), nullableJSON(r.Metadata), r.CreatedAt, r.Peer, r.TaskID)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, filter xmpt.ListFilter) ([]xmpt.Record, error) {
	query, args := listQuery("xmpt_messages", filter, func(int) string { return "?" }, int64(-1))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := make([]xmpt.Record, 0)
	for rows.Next() {
		var r row
		var content string
		var meta sql.NullString
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Direction, &r.Sender, &r.Recipient, &content, &meta, &r.CreatedAt, &r.Peer, &r.TaskID); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r.Content = []byte(content)
		if meta.Valid {
			r.Metadata = []byte(meta.String)
		}
		rec, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}
