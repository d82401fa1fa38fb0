// Package tips: lattice.go holds the payout status transition rules.
// Every backend validates against CanTransition before writing.
package tips

// transitions lists the valid forward moves. Terminal states have no entry.
var transitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending: {
		PayoutTransferred,
		PayoutPendingDJAccount,
		PayoutReallocatedToPool,
		PayoutFailed,
	},
	PayoutPendingDJAccount: {
		PayoutPending,
		PayoutReallocatedToPool,
		PayoutFailed,
	},
	PayoutFailed: {
		PayoutPending,
	},
}

// IsTerminal reports whether no further transition is ever valid.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutTransferred || s == PayoutReallocatedToPool
}

// IsValid reports whether s is a known payout status.
func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutPending, PayoutPendingDJAccount, PayoutTransferred, PayoutFailed, PayoutReallocatedToPool:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a valid forward move.
func CanTransition(from, to PayoutStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// canSetPayment reports whether the payment status may move from → to.
// Payment status is set once: pending → succeeded | failed.
func canSetPayment(from, to PaymentStatus) bool {
	return from == PaymentPending && (to == PaymentSucceeded || to == PaymentFailed)
}

// applyTransition copies the transition fields that belong to the target state.
// transferred_at and reallocated_at are only written by their own transition.
func applyTransition(t *Tip, next PayoutStatus, tr Transition) {
	t.PayoutStatus = next
	switch next {
	case PayoutTransferred:
		t.TransferID = tr.TransferID
		at := tr.TransferredAt
		t.TransferredAt = &at
	case PayoutReallocatedToPool:
		at := tr.ReallocatedAt
		t.ReallocatedAt = &at
	case PayoutFailed:
		t.FailureReason = tr.FailureReason
		t.FailureCount++
	}
}
