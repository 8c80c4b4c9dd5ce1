// Package store provides persistent xmpt.Store backends.
package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Store is a message store that owns external resources.
type Store interface {
	xmpt.Store
	io.Closer
}

type memoryStore struct {
	*xmpt.MemoryStore
}

func (memoryStore) Close() error { return nil }

// Open builds the backend named by backend. dsn is a Postgres connection
// string or a SQLite file path; it is ignored for memory.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return memoryStore{xmpt.NewMemoryStore()}, nil
	case BackendPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("store: postgres requires a dsn")
		}
		return NewPostgres(ctx, dsn)
	case BackendSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("store: sqlite requires a path")
		}
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
