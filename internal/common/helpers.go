// Package common holds small utilities used across the project:
// money formatting, day arithmetic and e-mail normalisation.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Day is the length of one reminder/claim-window day.
const Day = 24 * time.Hour

// DaysBetween returns the number of whole days elapsed from since to now.
// Negative spans count as zero.
//
// Examples:
//
//	DaysBetween(t, t.Add(23*time.Hour)) → 0
//	DaysBetween(t, t.Add(7*24*time.Hour)) → 7
func DaysBetween(since, now time.Time) int {
	if now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / Day)
}

// NormalizeEmail trims and lower-cases an address so lookups by e-mail
// match regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FormatDate formats a time as "Jan 2, 2006" in UTC.
// Used in reminder e-mails and CLI output.
func FormatDate(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006")
}

// FormatDateTime formats a time as "2006-01-02 15:04" in UTC.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// ShortID returns the first 8 characters of an id for log lines and tables.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// FormatCount renders n with a singular or plural noun: "1 tip", "3 tips".
func FormatCount(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
