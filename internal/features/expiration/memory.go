package expiration

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Append(ctx context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.TipID]; ok {
		return false, nil
	}
	m.records[rec.TipID] = rec
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReallocatedAt.After(out[j].ReallocatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ RecordStore = (*Repository)(nil)
	_ RecordStore = (*MongoRepository)(nil)
	_ RecordStore = (*MemoryStore)(nil)
)
