// Package tips owns the tip ledger: the durable record of every tip,
// its two independent status fields and the rules for moving between them.
// models.go describes the tip record and the party references it carries.
package tips

import "time"

// PaymentStatus tracks whether the tipper's charge went through.
// Set once, by the payment-confirmation trigger only.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PayoutStatus tracks whether/how the tip's funds reached the broadcaster.
type PayoutStatus string

const (
	PayoutPending           PayoutStatus = "pending"             // waiting for a transfer attempt
	PayoutPendingDJAccount  PayoutStatus = "pending_dj_account"  // broadcaster has no usable payout account yet
	PayoutTransferred       PayoutStatus = "transferred"         // terminal: funds moved
	PayoutFailed            PayoutStatus = "failed"              // processor rejected the transfer, retryable via resync
	PayoutReallocatedToPool PayoutStatus = "reallocated_to_pool" // terminal: claim window elapsed
)

// Storage sentinels. They never leave the repository layer.
const (
	pendingBroadcasterSentinel = "pending"
	guestTipperSentinel        = "guest"
)

// BroadcasterRef is either Resolved(id) or Unresolved(email).
// An unresolved reference keeps the e-mail the tipper entered so the tip
// can be bound once a broadcaster with that address finishes onboarding.
type BroadcasterRef struct {
	id    string
	email string
}

// Resolved references a known broadcaster.
func Resolved(id string) BroadcasterRef {
	return BroadcasterRef{id: id}
}

// Unresolved references a broadcaster known only by e-mail.
func Unresolved(email string) BroadcasterRef {
	return BroadcasterRef{email: email}
}

// ID returns the broadcaster id and whether the reference is resolved.
func (r BroadcasterRef) ID() (string, bool) {
	return r.id, r.id != ""
}

// IsResolved reports whether the reference carries a real broadcaster id.
func (r BroadcasterRef) IsResolved() bool {
	return r.id != ""
}

// Email returns the recorded e-mail of an unresolved reference.
func (r BroadcasterRef) Email() string {
	return r.email
}

// Key identifies the broadcaster for grouping and de-duplication:
// the id when resolved, "email:<address>" otherwise.
func (r BroadcasterRef) Key() string {
	if r.id != "" {
		return r.id
	}
	return "email:" + r.email
}

func (r BroadcasterRef) String() string {
	if r.id != "" {
		return r.id
	}
	return pendingBroadcasterSentinel + "<" + r.email + ">"
}

// storageID returns the value persisted in the broadcaster_id column.
func (r BroadcasterRef) storageID() string {
	if r.id != "" {
		return r.id
	}
	return pendingBroadcasterSentinel
}

// refFromStorage rebuilds a reference from the persisted columns.
func refFromStorage(id, email string) BroadcasterRef {
	if id == "" || id == pendingBroadcasterSentinel {
		return Unresolved(email)
	}
	return BroadcasterRef{id: id, email: email}
}

// Tipper identifies who paid. Guests have no user id.
type Tipper struct {
	UserID      string // empty for guests
	DisplayName string
}

// IsGuest reports whether the tip was sent without an account.
func (t Tipper) IsGuest() bool {
	return t.UserID == ""
}

func (t Tipper) storageID() string {
	if t.UserID == "" {
		return guestTipperSentinel
	}
	return t.UserID
}

func tipperFromStorage(id, name string) Tipper {
	if id == guestTipperSentinel {
		id = ""
	}
	return Tipper{UserID: id, DisplayName: name}
}

// Tip is one payment from a listener to a broadcaster.
// Everything except the status fields, the transfer linkage and the
// broadcaster binding is immutable after Create.
type Tip struct {
	ID          string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Tipper      Tipper
	Broadcaster BroadcasterRef
	ShowID      string
	Message     string

	// Money, in minor currency units. Total == TipAmount + PlatformFee.
	TipAmount   int64
	PlatformFee int64
	Total       int64
	Currency    string

	PaymentStatus PaymentStatus
	PayoutStatus  PayoutStatus

	CheckoutSessionID string
	PaymentIntentID   string
	TransferID        string
	FailureReason     string
	FailureCount      int // permanent transfer failures so far

	TransferredAt *time.Time
	ReallocatedAt *time.Time
}

// IsSettled reports whether the payout reached a terminal state.
func (t *Tip) IsSettled() bool {
	return t.PayoutStatus.IsTerminal()
}

// Transition carries the fields written together with a payout status change.
// Zero values are left untouched.
type Transition struct {
	TransferID    string
	TransferredAt time.Time
	ReallocatedAt time.Time
	FailureReason string
}

// Filter narrows FindByPayoutStatus. Zero-valued fields do not filter.
type Filter struct {
	BroadcasterID    string        // resolved broadcaster id
	PendingEmail     string        // e-mail of unresolved tips (normalised)
	PaymentStatus    PaymentStatus // usually PaymentSucceeded
	CreatedBefore    time.Time
	ReallocatedSince time.Time
	Limit            int
}
