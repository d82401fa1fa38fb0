// Package accounts is the payout account directory: who a broadcaster is,
// whether they have a payout account at the processor and whether that
// account can receive transfers.
package accounts

import "time"

// Broadcaster is a registered programme host who can receive tips.
type Broadcaster struct {
	ID          string
	Email       string // normalised (trimmed, lower case)
	DisplayName string
	Account     *PayoutAccount // nil until onboarding has started
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PayoutAccount links a broadcaster to a processor connected account.
// Only Activated gates transfers.
type PayoutAccount struct {
	BroadcasterID string
	ExternalID    string
	Activated     bool
}

// IsActivated reports whether transfers to this broadcaster may be attempted.
func (b *Broadcaster) IsActivated() bool {
	return b != nil && b.Account != nil && b.Account.Activated
}

// ResolveRequest carries the broadcaster context a tipper supplied.
// At least one of the fields must be set.
type ResolveRequest struct {
	BroadcasterID string
	Email         string
}
