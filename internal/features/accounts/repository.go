// Package accounts: repository.go stores broadcasters in PostgreSQL.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"onair.fm/tipjar/internal/common"
)

// Store is the persistence contract the directory depends on.
type Store interface {
	GetByID(ctx context.Context, id string) (*Broadcaster, error)
	GetByEmail(ctx context.Context, email string) (*Broadcaster, error)
	GetByExternalID(ctx context.Context, externalID string) (*Broadcaster, error)
	Upsert(ctx context.Context, b *Broadcaster) error
	SetActivated(ctx context.Context, broadcasterID string, activated bool) (bool, error)
	List(ctx context.Context) ([]*Broadcaster, error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const broadcasterColumns = `id, email, display_name, payout_account_id, payout_activated, created_at, updated_at`

// GetByID returns a broadcaster or an error wrapping common.ErrBroadcasterNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*Broadcaster, error) {
	query := `SELECT ` + broadcasterColumns + ` FROM broadcasters WHERE id = $1`
	b, err := scanBroadcaster(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w (id=%s)", common.ErrBroadcasterNotFound, id)
		}
		return nil, fmt.Errorf("failed to read broadcaster (id=%s): %w", id, err)
	}
	return b, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*Broadcaster, error) {
	query := `SELECT ` + broadcasterColumns + ` FROM broadcasters WHERE LOWER(email) = LOWER($1)`
	b, err := scanBroadcaster(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w (email=%s)", common.ErrBroadcasterNotFound, email)
		}
		return nil, fmt.Errorf("failed to read broadcaster (email=%s): %w", email, err)
	}
	return b, nil
}

func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (*Broadcaster, error) {
	query := `SELECT ` + broadcasterColumns + ` FROM broadcasters WHERE payout_account_id = $1`
	b, err := scanBroadcaster(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w (account=%s)", common.ErrBroadcasterNotFound, externalID)
		}
		return nil, fmt.Errorf("failed to read broadcaster (account=%s): %w", externalID, err)
	}
	return b, nil
}

// Upsert creates the broadcaster or updates its identity and account link.
// The activated flag is only changed through SetActivated.
func (r *Repository) Upsert(ctx context.Context, b *Broadcaster) error {
	var externalID *string
	if b.Account != nil && b.Account.ExternalID != "" {
		externalID = &b.Account.ExternalID
	}
	query := `
		INSERT INTO broadcasters (id, email, display_name, payout_account_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = EXCLUDED.display_name,
		    payout_account_id = COALESCE(EXCLUDED.payout_account_id, broadcasters.payout_account_id),
		    updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, b.ID, b.Email, b.DisplayName, externalID); err != nil {
		return fmt.Errorf("failed to save broadcaster (id=%s): %w", b.ID, err)
	}
	return nil
}

// SetActivated stores the processor-reported flag and reports whether it changed.
func (r *Repository) SetActivated(ctx context.Context, broadcasterID string, activated bool) (bool, error) {
	query := `
		UPDATE broadcasters SET payout_activated = $2, updated_at = NOW()
		WHERE id = $1 AND payout_activated <> $2
	`
	tag, err := r.db.Exec(ctx, query, broadcasterID, activated)
	if err != nil {
		return false, fmt.Errorf("failed to update activation (id=%s): %w", broadcasterID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) List(ctx context.Context) ([]*Broadcaster, error) {
	rows, err := r.db.Query(ctx, `SELECT `+broadcasterColumns+` FROM broadcasters ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query broadcasters: %w", err)
	}
	defer rows.Close()

	var out []*Broadcaster
	for rows.Next() {
		b, err := scanBroadcaster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broadcaster: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBroadcaster(row pgx.Row) (*Broadcaster, error) {
	var (
		b          Broadcaster
		externalID *string
		activated  bool
	)
	if err := row.Scan(&b.ID, &b.Email, &b.DisplayName, &externalID, &activated, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if externalID != nil {
		b.Account = &PayoutAccount{BroadcasterID: b.ID, ExternalID: *externalID, Activated: activated}
	}
	return &b, nil
}
