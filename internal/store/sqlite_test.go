package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/daydreamsai/lucid-agents-sub001/internal/store"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

func openSQLite(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.BackendSQLite, filepath.Join(t.TempDir(), "xmpt.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(i int, thread string, dir xmpt.Direction) xmpt.Record {
	return xmpt.Record{
		Message: xmpt.Message{
			ID:        fmt.Sprintf("m%d", i),
			ThreadID:  thread,
			From:      "alpha",
			To:        "beta",
			Content:   xmpt.Content{Text: fmt.Sprintf("body %d", i), Data: map[string]any{"n": float64(i)}},
			CreatedAt: "2025-01-01T00:00:00.000Z",
		},
		Direction: dir,
		Peer:      "http://peer.local",
		TaskID:    fmt.Sprintf("task-%d", i),
	}
}

func idsOf(records []xmpt.Record) string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return fmt.Sprint(out)
}

func TestSQLiteStoreFilters(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	seed := []xmpt.Record{
		record(0, "a", xmpt.DirectionOutbound),
		record(1, "b", xmpt.DirectionInbound),
		record(2, "a", xmpt.DirectionInbound),
		record(3, "a", xmpt.DirectionOutbound),
	}
	for _, rec := range seed {
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cases := []struct {
		name   string
		filter xmpt.ListFilter
		want   string
	}{
		{name: "all", filter: xmpt.ListFilter{}, want: "[m0 m1 m2 m3]"},
		{name: "thread", filter: xmpt.ListFilter{ThreadID: "a"}, want: "[m0 m2 m3]"},
		{name: "direction", filter: xmpt.ListFilter{Direction: xmpt.DirectionInbound}, want: "[m1 m2]"},
		{name: "both", filter: xmpt.ListFilter{ThreadID: "a", Direction: xmpt.DirectionOutbound}, want: "[m0 m3]"},
		{name: "offset only", filter: xmpt.ListFilter{Offset: 2}, want: "[m2 m3]"},
		{name: "offset and limit", filter: xmpt.ListFilter{Offset: 1, Limit: 1}, want: "[m1]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if idsOf(got) != tc.want {
				t.Fatalf("ids = %s, want %s", idsOf(got), tc.want)
			}
		})
	}
}

func TestSQLiteStoreRoundTripsFields(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	rec := record(7, "t", xmpt.DirectionInbound)
	rec.Metadata = map[string]any{"trace": "abc"}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.List(ctx, xmpt.ListFilter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("list: %v, %d records", err, len(got))
	}
	r := got[0]
	if r.From != "alpha" || r.To != "beta" || r.Peer != "http://peer.local" || r.TaskID != "task-7" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.Content.Text != "body 7" || r.Metadata["trace"] != "abc" {
		t.Fatalf("unexpected content/metadata: %+v", r)
	}
	data, ok := r.Content.Data.(map[string]any)
	if !ok || data["n"] != float64(7) {
		t.Fatalf("unexpected data: %#v", r.Content.Data)
	}
}

func TestSQLiteStoreRejectsBadDirection(t *testing.T) {
	s := openSQLite(t)
	if err := s.Append(context.Background(), record(1, "t", xmpt.Direction("sideways"))); err == nil {
		t.Fatalf("expected invalid direction error")
	}
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	mem, err := store.Open(ctx, "", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if err := mem.Append(ctx, record(1, "t", xmpt.DirectionOutbound)); err != nil {
		t.Fatalf("memory append: %v", err)
	}
	_ = mem.Close()

	if _, err := store.Open(ctx, store.BackendPostgres, ""); err == nil {
		t.Fatalf("expected postgres without dsn to fail")
	}
	if _, err := store.Open(ctx, "cassandra", "x"); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
