// Package common: errors.go defines the error values shared by every
// feature package. Handlers and jobs use them to tell validation problems
// (shown to the tipper) apart from failures that are recovered locally.
package common

import "errors"

// Tip request validation (the only errors a tipper ever sees)
var (
	// ErrInvalidAmount: amount is zero or negative
	ErrInvalidAmount = errors.New("tip amount must be positive")
	// ErrAmountTooSmall: amount is below the configured minimum
	ErrAmountTooSmall = errors.New("tip amount is below the minimum")
	// ErrAmountTooLarge: amount is above the configured ceiling
	ErrAmountTooLarge = errors.New("tip amount is above the maximum")
	// ErrMissingBroadcaster: neither a broadcaster id nor an email was supplied
	ErrMissingBroadcaster = errors.New("broadcaster id or email is required")
	// ErrMissingShow: the show/session context is missing
	ErrMissingShow = errors.New("show id is required")
)

// Ledger errors
var (
	// ErrTipNotFound: no tip with this id
	ErrTipNotFound = errors.New("tip not found")
	// ErrInvalidTransition: the requested payout status move is not in the lattice
	ErrInvalidTransition = errors.New("invalid payout status transition")
	// ErrAlreadySettled: the tip is transferred or reallocated
	ErrAlreadySettled = errors.New("tip payout already settled")
)

// Payout account errors
var (
	// ErrBroadcasterNotFound: no broadcaster with this id, email or account
	ErrBroadcasterNotFound = errors.New("broadcaster not found")
	// ErrAccountNotActivated: the payout account cannot receive funds yet
	ErrAccountNotActivated = errors.New("payout account is not activated")
)

// Payment processor errors
var (
	// ErrTransientProcessor: network, 5xx, rate limit or timeout; retry later
	ErrTransientProcessor = errors.New("transient payment processor error")
	// ErrPermanentProcessor: the processor rejected the request for good
	ErrPermanentProcessor = errors.New("payment processor rejected the request")
	// ErrInvalidSignature: webhook payload signature did not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Operator errors
var (
	// ErrUnauthorized: bad credentials or token
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTooManyAttempts: too many failed logins, wait an hour
	ErrTooManyAttempts = errors.New("too many attempts, try again in an hour")
)

// IsValidation reports whether err is a tip request validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAmountTooSmall) ||
		errors.Is(err, ErrAmountTooLarge) ||
		errors.Is(err, ErrMissingBroadcaster) ||
		errors.Is(err, ErrMissingShow)
}
