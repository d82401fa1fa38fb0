// Package expiration reallocates tips nobody claimed within the claim
// window to the support pool. Reallocation is bookkeeping only: the tip
// reaches a terminal status and an audit record is appended.
package expiration

import (
	"context"
	"time"
)

// Record is the append-only audit entry for one reallocated tip.
type Record struct {
	TipID          string    `bson:"tip_id"`
	BroadcasterRef string    `bson:"broadcaster_ref"`
	Amount         int64     `bson:"amount"`
	Currency       string    `bson:"currency"`
	TippedAt       time.Time `bson:"tipped_at"`
	ReallocatedAt  time.Time `bson:"reallocated_at"`
}

// RecordStore persists reallocation records. Append is idempotent per tip
// and reports whether a new record was written.
type RecordStore interface {
	Append(ctx context.Context, r Record) (bool, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// Report summarises one sweep.
type Report struct {
	Examined    int   `json:"examined"`
	Reallocated int   `json:"reallocated"`
	Skipped     int   `json:"skipped"`
	Repaired    int   `json:"repaired"`
	Amount      int64 `json:"amount"`
}
