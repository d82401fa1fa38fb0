// Package tips: fees.go splits a requested tip into tip, platform fee and total.
package tips

import (
	"github.com/shopspring/decimal"

	"onair.fm/tipjar/internal/common"
)

// FeePolicy is the platform's cut: Rate of the tip, never less than Minimum.
type FeePolicy struct {
	Rate    decimal.Decimal
	Minimum int64
}

// DefaultFeePolicy is 15% with a 50 minor-unit floor.
var DefaultFeePolicy = FeePolicy{
	Rate:    decimal.RequireFromString("0.15"),
	Minimum: 50,
}

// Breakdown is the result of a fee calculation. Total == Tip + Fee.
type Breakdown struct {
	Tip   int64
	Fee   int64
	Total int64
}

// CalculateFee applies DefaultFeePolicy.
//
// Examples:
//
//	CalculateFee(100)  → {Tip: 100, Fee: 50, Total: 150}   (floor applies)
//	CalculateFee(1000) → {Tip: 1000, Fee: 150, Total: 1150}
func CalculateFee(amount int64) (Breakdown, error) {
	return DefaultFeePolicy.Calculate(amount)
}

// Calculate returns fee = max(round(amount * Rate), Minimum).
// Rounding is half away from zero, which for positive amounts is half-up.
// Ceilings are not checked here; checkout polices them.
func (p FeePolicy) Calculate(amount int64) (Breakdown, error) {
	if amount <= 0 {
		return Breakdown{}, common.ErrInvalidAmount
	}
	fee := decimal.NewFromInt(amount).Mul(p.Rate).Round(0).IntPart()
	if fee < p.Minimum {
		fee = p.Minimum
	}
	return Breakdown{Tip: amount, Fee: fee, Total: amount + fee}, nil
}
