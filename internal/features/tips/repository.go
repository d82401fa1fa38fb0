// Package tips: repository.go is the PostgreSQL ledger backend.
// Payout status changes are single conditional UPDATEs guarded by the
// expected status, so concurrent writers cannot both win.
package tips

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores tips in the tips table.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates the Postgres ledger.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const tipColumns = `
	id, tipper_id, tipper_name, broadcaster_id, pending_email, show_id, message,
	tip_amount, platform_fee, total_amount, currency,
	payment_status, payout_status,
	checkout_session_id, payment_intent_id, transfer_id, failure_reason, failure_count,
	transferred_at, reallocated_at, created_at, updated_at`

// Create inserts a new tip. Re-inserting the same id is a no-op.
func (r *Repository) Create(ctx context.Context, t *Tip) (string, error) {
	if err := validateNew(t); err != nil {
		return "", err
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := `
		INSERT INTO tips (id, tipper_id, tipper_name, broadcaster_id, pending_email, show_id, message,
		                  tip_amount, platform_fee, total_amount, currency,
		                  payment_status, payout_status, checkout_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.Tipper.storageID(), t.Tipper.DisplayName,
		t.Broadcaster.storageID(), t.Broadcaster.Email(), t.ShowID, t.Message,
		t.TipAmount, t.PlatformFee, t.Total, t.Currency,
		string(t.PaymentStatus), string(t.PayoutStatus), t.CheckoutSessionID, createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create tip: %w", err)
	}
	return t.ID, nil
}

// Get returns one tip.
func (r *Repository) Get(ctx context.Context, id string) (*Tip, error) {
	query := `SELECT ` + tipColumns + ` FROM tips WHERE id = $1`
	t, err := scanTip(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read tip (id=%s): %w", id, err)
	}
	return t, nil
}

// FindByPayoutStatus lists tips in the given payout status, oldest first.
func (r *Repository) FindByPayoutStatus(ctx context.Context, status PayoutStatus, f Filter) ([]*Tip, error) {
	where := []string{"payout_status = $1"}
	args := []any{string(status)}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BroadcasterID != "" {
		add("broadcaster_id = $%d", f.BroadcasterID)
	}
	if f.PendingEmail != "" {
		where = append(where, "broadcaster_id = '"+pendingBroadcasterSentinel+"'")
		add("pending_email = $%d", f.PendingEmail)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	if !f.ReallocatedSince.IsZero() {
		add("reallocated_at >= $%d", f.ReallocatedSince)
	}

	query := `SELECT ` + tipColumns + ` FROM tips WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tips (status=%s): %w", status, err)
	}
	defer rows.Close()

	var out []*Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompareAndSetPayoutStatus is one UPDATE … WHERE payout_status = expected.
// Only the columns that belong to the target status are written.
func (r *Repository) CompareAndSetPayoutStatus(ctx context.Context, id string, expected, next PayoutStatus, tr Transition) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}

	var (
		transferID    string
		transferredAt *time.Time
		reallocatedAt *time.Time
		failureReason string
	)
	switch next {
	case PayoutTransferred:
		transferID = tr.TransferID
		transferredAt = &tr.TransferredAt
	case PayoutReallocatedToPool:
		reallocatedAt = &tr.ReallocatedAt
	case PayoutFailed:
		failureReason = tr.FailureReason
	}

	query := `
		UPDATE tips
		SET payout_status  = $3,
		    transfer_id    = CASE WHEN $3 = 'transferred' THEN $4 ELSE transfer_id END,
		    transferred_at = CASE WHEN $3 = 'transferred' THEN $5::timestamptz ELSE transferred_at END,
		    reallocated_at = CASE WHEN $3 = 'reallocated_to_pool' THEN $6::timestamptz ELSE reallocated_at END,
		    failure_reason = CASE WHEN $3 = 'failed' THEN $7 ELSE failure_reason END,
		    failure_count  = CASE WHEN $3 = 'failed' THEN failure_count + 1 ELSE failure_count END,
		    updated_at     = NOW()
		WHERE id = $1 AND payout_status = $2
	`
	tag, err := r.db.Exec(ctx, query,
		id, string(expected), string(next),
		transferID, transferredAt, reallocatedAt, failureReason,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payout status (id=%s): %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

// SetPaymentStatus records the processor's verdict on the charge, once.
func (r *Repository) SetPaymentStatus(ctx context.Context, id string, next PaymentStatus, paymentIntentID string) (bool, error) {
	if !canSetPayment(PaymentPending, next) {
		return false, fmt.Errorf("invalid payment status %q", next)
	}
	query := `
		UPDATE tips
		SET payment_status = $2,
		    payment_intent_id = COALESCE(NULLIF($3, ''), payment_intent_id),
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id, string(next), paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status (id=%s): %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

// BindBroadcaster fills in the broadcaster id of an unresolved tip.
func (r *Repository) BindBroadcaster(ctx context.Context, id, broadcasterID string) (bool, error) {
	query := `
		UPDATE tips SET broadcaster_id = $2, updated_at = NOW()
		WHERE id = $1 AND broadcaster_id = '` + pendingBroadcasterSentinel + `'
	`
	tag, err := r.db.Exec(ctx, query, id, broadcasterID)
	if err != nil {
		return false, fmt.Errorf("failed to bind broadcaster (id=%s): %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *Repository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tips WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check tip (id=%s): %w", id, err)
	}
	if !exists {
		return notFound(id)
	}
	return nil
}

func scanTip(row pgx.Row) (*Tip, error) {
	var (
		t                          Tip
		tipperID, tipperName       string
		broadcasterID, pendingMail string
		paymentStatus, payout      string
	)
	err := row.Scan(
		&t.ID, &tipperID, &tipperName, &broadcasterID, &pendingMail, &t.ShowID, &t.Message,
		&t.TipAmount, &t.PlatformFee, &t.Total, &t.Currency,
		&paymentStatus, &payout,
		&t.CheckoutSessionID, &t.PaymentIntentID, &t.TransferID, &t.FailureReason, &t.FailureCount,
		&t.TransferredAt, &t.ReallocatedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Tipper = tipperFromStorage(tipperID, tipperName)
	t.Broadcaster = refFromStorage(broadcasterID, pendingMail)
	t.PaymentStatus = PaymentStatus(paymentStatus)
	t.PayoutStatus = PayoutStatus(payout)
	return &t, nil
}
