// Package processor is the contract between the service and the payment
// processor: platform charges through hosted checkout, transfers to
// connected payout accounts and signed event callbacks.
package processor

import (
	"context"
	"errors"
	"fmt"

	"onair.fm/tipjar/internal/common"
)

// TransferRequest moves funds from the platform balance to a connected account.
type TransferRequest struct {
	TipID          string
	Destination    string // connected account id
	Amount         int64  // minor units
	Currency       string
	IdempotencyKey string
}

// Transfer is the processor's record of a completed transfer.
type Transfer struct {
	ID string
}

// CheckoutRequest asks for a hosted payment page charging the tipper.
type CheckoutRequest struct {
	TipID          string
	Amount         int64 // total charged, tip plus fee
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is the hosted page the tipper is redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// EventKind is the normalised kind of a processor callback.
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventAccountUpdated   EventKind = "account_updated"
	EventIgnored          EventKind = "ignored"
)

// Event is a verified, normalised callback.
type Event struct {
	ID              string
	Type            string // processor event type, for logs
	Kind            EventKind
	TipID           string
	PaymentIntentID string
	AccountID       string
	Activated       bool
}

// Client is implemented by processor adapters.
type Client interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ParseEvent verifies the signature before decoding anything.
	// A bad signature returns an error wrapping common.ErrInvalidSignature.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// TransferKey is the idempotency key for a transfer of a tip. Retries within
// one failure generation share the key and collapse into one transfer at the
// processor. After a permanent failure the generation moves on, so the retry
// is not answered with the cached rejection.
func TransferKey(tipID string, failures int) string {
	if failures <= 0 {
		return "tip-transfer-" + tipID
	}
	return fmt.Sprintf("tip-transfer-%s-r%d", tipID, failures)
}

// CheckoutKey is the idempotency key for the checkout session of a tip.
func CheckoutKey(tipID string) string {
	return "tip-checkout-" + tipID
}

// Error is a classified processor failure.
type Error struct {
	Op        string
	Code      string
	Status    int
	Message   string
	Permanent bool
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s processor error %s (status %d): %s", e.Op, kind, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s processor error (status %d): %s", e.Op, kind, e.Status, e.Message)
}

// Unwrap lets callers match on the common taxonomy with errors.Is.
func (e *Error) Unwrap() error {
	if e.Permanent {
		return common.ErrPermanentProcessor
	}
	return common.ErrTransientProcessor
}

// IsPermanent reports whether err is a definitive rejection. Unclassified
// errors are treated as transient so the tip is retried, never failed.
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return errors.Is(err, common.ErrPermanentProcessor)
}

// Classify maps an HTTP status and error code to a permanence verdict.
// Rate limits, conflicts, server errors and network failures (status 0)
// are transient; other client errors are permanent.
func Classify(status int, code string) bool {
	switch {
	case code == "balance_insufficient":
		return true
	case status == 0, status == 409, status == 429, status >= 500:
		return false
	case status >= 400:
		return true
	default:
		return false
	}
}
