package expiration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores records in the reallocations table.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, rec Record) (bool, error) {
	query := `
		INSERT INTO reallocations (tip_id, broadcaster_ref, amount, currency, tipped_at, reallocated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tip_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		rec.TipID, rec.BroadcasterRef, rec.Amount, rec.Currency, rec.TippedAt, rec.ReallocatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to append reallocation (tip=%s): %w", rec.TipID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT tip_id, broadcaster_ref, amount, currency, tipped_at, reallocated_at
		FROM reallocations
		ORDER BY reallocated_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reallocations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.TipID, &rec.BroadcasterRef, &rec.Amount, &rec.Currency,
			&rec.TippedAt, &rec.ReallocatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reallocation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
