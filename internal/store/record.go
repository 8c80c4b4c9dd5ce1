package store

import (
	"encoding/json"
	"fmt"

	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

// row is the column layout shared by the SQL backends.
type row struct {
	ID        string
	ThreadID  string
	Direction string
	Sender    string
	Recipient string
	Content   []byte
	Metadata  []byte
	CreatedAt string
	Peer      string
	TaskID    string
}

func encodeRecord(rec xmpt.Record) (row, error) {
	if !rec.Direction.Valid() {
		return row{}, fmt.Errorf("store: invalid direction %q", rec.Direction)
	}
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return row{}, fmt.Errorf("store: marshal content: %w", err)
	}
	var meta []byte
	if len(rec.Metadata) > 0 {
		if meta, err = json.Marshal(rec.Metadata); err != nil {
			return row{}, fmt.Errorf("store: marshal metadata: %w", err)
		}
	}
	return row{
		ID:        rec.ID,
		ThreadID:  rec.ThreadID,
		Direction: string(rec.Direction),
		Sender:    rec.From,
		Recipient: rec.To,
		Content:   content,
		Metadata:  meta,
		CreatedAt: rec.CreatedAt,
		Peer:      rec.Peer,
		TaskID:    rec.TaskID,
	}, nil
}

func (r row) decode() (xmpt.Record, error) {
	rec := xmpt.Record{
		Message: xmpt.Message{
			ID:        r.ID,
			ThreadID:  r.ThreadID,
			From:      r.Sender,
			To:        r.Recipient,
			CreatedAt: r.CreatedAt,
		},
		Direction: xmpt.Direction(r.Direction),
		Peer:      r.Peer,
		TaskID:    r.TaskID,
	}
	if err := json.Unmarshal(r.Content, &rec.Content); err != nil {
		return xmpt.Record{}, fmt.Errorf("store: decode content of %s: %w", r.ID, err)
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &rec.Metadata); err != nil {
			return xmpt.Record{}, fmt.Errorf("store: decode metadata of %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

// listQuery renders the shared filter clause. placeholder formats the nth
// bind parameter for the dialect; unbounded is the dialect's "no limit" value.
func listQuery(table string, f xmpt.ListFilter, placeholder func(n int) string, unbounded any) (string, []any) {
	query := "SELECT id, thread_id, direction, sender, recipient, content, metadata, created_at, peer, task_id FROM " + table
	var (
		where []string
		args  []any
	)
	if f.ThreadID != "" {
		args = append(args, f.ThreadID)
		where = append(where, "thread_id = "+placeholder(len(args)))
	}
	if f.Direction != "" {
		args = append(args, string(f.Direction))
		where = append(where, "direction = "+placeholder(len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY seq ASC"

	// SQLite rejects OFFSET without LIMIT.
	if f.Limit > 0 || f.Offset > 0 {
		var limit any = unbounded
		if f.Limit > 0 {
			limit = int64(f.Limit)
		}
		args = append(args, limit)
		query += " LIMIT " + placeholder(len(args))
		args = append(args, int64(max(f.Offset, 0)))
		query += " OFFSET " + placeholder(len(args))
	}
	return query, args
}
