// Package common: pluralize.go formats minor-unit money amounts
// for e-mails, operator alerts and CLI tables.
package common

import (
	"fmt"
	"strings"
)

// FormatMoney renders an amount in minor units with its currency.
//
// Examples:
//
//	FormatMoney(1150, "usd")   → "11.50 USD"
//	FormatMoney(-50, "eur")    → "-0.50 EUR"
//	FormatMoney(123456, "usd") → "1,234.56 USD"
func FormatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%s.%02d %s", sign, FormatNumber(minor/100), minor%100, strings.ToUpper(currency))
}

// FormatNumber formats an integer with thousands separators.
// Example: FormatNumber(2350) → "2,350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s,%03d", FormatNumber(n/1000), n%1000)
}
