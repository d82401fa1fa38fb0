package operators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptStore records login attempts for brute-force limiting.
type AttemptStore interface {
	LogAttempt(ctx context.Context, username string, success bool) error
	RecentFailures(ctx context.Context, username string, since time.Time) (int, error)
}

// Repository keeps attempts in operator_login_attempts.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) LogAttempt(ctx context.Context, username string, success bool) error {
	query := `INSERT INTO operator_login_attempts (username, success) VALUES ($1, $2)`
	if _, err := r.db.Exec(ctx, query, username, success); err != nil {
		return fmt.Errorf("failed to log login attempt: %w", err)
	}
	return nil
}

func (r *Repository) RecentFailures(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM operator_login_attempts
		WHERE username = $1 AND success = FALSE AND attempt_time >= $2
	`
	var count int
	if err := r.db.QueryRow(ctx, query, username, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count login attempts: %w", err)
	}
	return count, nil
}

// MemoryAttempts keeps attempts in process.
type MemoryAttempts struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{failures: make(map[string][]time.Time), now: time.Now}
}

func (m *MemoryAttempts) LogAttempt(ctx context.Context, username string, success bool) error {
	if success {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[username] = append(m.failures[username], m.now())
	return nil
}

func (m *MemoryAttempts) RecentFailures(ctx context.Context, username string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, at := range m.failures[username] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

var (
	_ AttemptStore = (*Repository)(nil)
	_ AttemptStore = (*MemoryAttempts)(nil)
)
