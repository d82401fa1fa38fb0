package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores reminder records in payout_reminders.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Sent(ctx context.Context, broadcasterKey string, marker int) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM payout_reminders WHERE broadcaster_key = $1 AND day_marker = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, broadcasterKey, marker).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check reminder (%s, day %d): %w", broadcasterKey, marker, err)
	}
	return exists, nil
}

func (r *Repository) Record(ctx context.Context, broadcasterKey string, marker int, at time.Time) error {
	query := `
		INSERT INTO payout_reminders (broadcaster_key, day_marker, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (broadcaster_key, day_marker) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, broadcasterKey, marker, at); err != nil {
		return fmt.Errorf("failed to record reminder (%s, day %d): %w", broadcasterKey, marker, err)
	}
	return nil
}

// MemoryStore keeps reminder records in process.
type MemoryStore struct {
	mu   sync.Mutex
	sent map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sent: make(map[string]time.Time)}
}

func (m *MemoryStore) Sent(ctx context.Context, broadcasterKey string, marker int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sent[fmt.Sprintf("%s#%d", broadcasterKey, marker)]
	return ok, nil
}

func (m *MemoryStore) Record(ctx context.Context, broadcasterKey string, marker int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s#%d", broadcasterKey, marker)
	if _, ok := m.sent[key]; !ok {
		m.sent[key] = at
	}
	return nil
}

var (
	_ RecordStore = (*Repository)(nil)
	_ RecordStore = (*MemoryStore)(nil)
)
