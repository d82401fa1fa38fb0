// Package reminders nudges broadcasters who have tips waiting but no
// activated payout account. Reminders are advisory: nothing here writes
// to the tip ledger.
package reminders

import (
	"context"
	"time"
)

// DefaultMarkers are the tip ages, in days, at which a reminder goes out.
var DefaultMarkers = []int{1, 7, 30, 45, 50, 59}

// RecordStore remembers which (broadcaster, marker) pairs were reminded.
type RecordStore interface {
	Sent(ctx context.Context, broadcasterKey string, marker int) (bool, error)
	Record(ctx context.Context, broadcasterKey string, marker int, at time.Time) error
}

// Report summarises one run.
type Report struct {
	Broadcasters int `json:"broadcasters"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
}

// waiting aggregates the open tips of one broadcaster.
type waiting struct {
	key           string
	broadcasterID string
	email         string
	oldest        time.Time
	count         int
	amount        int64
	currency      string
}
