package xmpt

import (
	"context"
	"maps"
	"sync"
)

// ListFilter narrows a store listing. Zero values match everything; filters
// combine with AND. Offset applies before Limit.
type ListFilter struct {
	ThreadID  string
	Direction Direction
	Offset    int
	Limit     int
}

// Matches reports whether rec passes the thread and direction filters.
func (f ListFilter) Matches(rec Record) bool {
	if f.ThreadID != "" && rec.ThreadID != f.ThreadID {
		return false
	}
	if f.Direction != "" && rec.Direction != f.Direction {
		return false
	}
	return true
}

// Store is an append-only message log.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, filter ListFilter) ([]Record, error)
}

// MemoryStore keeps records in process memory in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Metadata = maps.Clone(rec.Metadata)

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0)
	skipped := 0
	for _, rec := range s.records {
		if !filter.Matches(rec) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		rec.Metadata = maps.Clone(rec.Metadata)
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
