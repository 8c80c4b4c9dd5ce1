package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS xmpt_messages (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL,
	thread_id  TEXT NOT NULL,
	direction  TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
	sender     TEXT NOT NULL DEFAULT '',
	recipient  TEXT NOT NULL DEFAULT '',
	content    JSONB NOT NULL,
	metadata   JSONB,
	created_at TEXT NOT NULL,
	peer       TEXT NOT NULL DEFAULT '',
	task_id    TEXT NOT NULL DEFAULT '',
	stored_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_xmpt_messages_thread ON xmpt_messages (thread_id, seq);
`

// Postgres is an xmpt.Store backed by a pgx connection pool.
type Postgres struct {
	Db *pgxpool.Pool
}

// NewPostgres connects to connString, verifies the connection and ensures
// the schema exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to apply schema: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

func (s *Postgres) Append(ctx context.Context, rec xmpt.Record) error {
	r, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx,
		`INSERT INTO xmpt_messages (id, thread_id, direction, sender, recipient, content, metadata, created_at, peer, task_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ThreadID, r.Direction, r.Sender, r.Recipient, string(r.Content), nullableJSON(r.Metadata), r.CreatedAt, r.Peer, r.TaskID)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, filter xmpt.ListFilter) ([]xmpt.Record, error) {
	query, args := listQuery("xmpt_messages", filter, func(n int) string { return "$" + strconv.Itoa(n) }, nil)

	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := make([]xmpt.Record, 0)
	for rows.Next() {
		var r row
		var content string
		var meta *string
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Direction, &r.Sender, &r.Recipient, &content, &meta, &r.CreatedAt, &r.Peer, &r.TaskID); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r.Content = []byte(content)
		if meta != nil {
			r.Metadata = []byte(*meta)
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

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
