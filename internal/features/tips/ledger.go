// Package tips: ledger.go declares the ledger contract shared by the
// Postgres, Mongo and in-memory backends.
package tips

import (
	"context"
	"fmt"

	"onair.fm/tipjar/internal/common"
)

// Ledger is the durable record of tips.
//
// CompareAndSetPayoutStatus is the only way to change a payout status. It is a
// single atomic conditional write: it succeeds only if the stored status still
// equals expected at write time. Callers that lose the race get false and must
// treat it as a no-op.
type Ledger interface {
	// Create stores a new tip and returns its id.
	Create(ctx context.Context, t *Tip) (string, error)
	// Get returns the tip or an error wrapping common.ErrTipNotFound.
	Get(ctx context.Context, id string) (*Tip, error)
	// FindByPayoutStatus lists tips in status, oldest first.
	FindByPayoutStatus(ctx context.Context, status PayoutStatus, f Filter) ([]*Tip, error)
	// CompareAndSetPayoutStatus moves the tip from expected to next.
	// Invalid lattice moves return false and common.ErrInvalidTransition.
	CompareAndSetPayoutStatus(ctx context.Context, id string, expected, next PayoutStatus, tr Transition) (bool, error)
	// SetPaymentStatus moves payment status from pending to next, once.
	// A repeated call returns false without error.
	SetPaymentStatus(ctx context.Context, id string, next PaymentStatus, paymentIntentID string) (bool, error)
	// BindBroadcaster replaces an unresolved broadcaster reference with the
	// real id. Already-resolved tips are left alone and return false.
	BindBroadcaster(ctx context.Context, id, broadcasterID string) (bool, error)
}

// checkTransition validates a payout move before any backend touches storage.
func checkTransition(expected, next PayoutStatus) error {
	if !CanTransition(expected, next) {
		return fmt.Errorf("%w: %s → %s", common.ErrInvalidTransition, expected, next)
	}
	return nil
}

// validateNew checks the invariants a tip must satisfy when it enters the ledger.
func validateNew(t *Tip) error {
	if t.ID == "" {
		return fmt.Errorf("tip id is required")
	}
	if t.TipAmount <= 0 {
		return common.ErrInvalidAmount
	}
	if t.Total != t.TipAmount+t.PlatformFee {
		return fmt.Errorf("total %d != tip %d + fee %d", t.Total, t.TipAmount, t.PlatformFee)
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = PaymentPending
	}
	if t.PayoutStatus == "" {
		t.PayoutStatus = PayoutPending
		if !t.Broadcaster.IsResolved() {
			t.PayoutStatus = PayoutPendingDJAccount
		}
	}
	if t.PayoutStatus != PayoutPending && t.PayoutStatus != PayoutPendingDJAccount {
		return fmt.Errorf("new tip cannot start in payout status %q", t.PayoutStatus)
	}
	if !t.Broadcaster.IsResolved() && t.Broadcaster.Email() == "" {
		return common.ErrMissingBroadcaster
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w (id=%s)", common.ErrTipNotFound, id)
}

var (
	_ Ledger = (*Repository)(nil)
	_ Ledger = (*MongoRepository)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
