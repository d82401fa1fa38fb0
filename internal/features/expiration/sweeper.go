package expiration

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/features/tips"
)

// DefaultClaimWindow is how long a paid tip waits for its broadcaster.
const DefaultClaimWindow = 60 * 24 * time.Hour

// repairLookback bounds how far back the repair pass looks for reallocated
// tips missing their record.
const repairLookback = 7 * 24 * time.Hour

// Sweeper moves expired tips to the support pool.
type Sweeper struct {
	ledger  tips.Ledger
	records RecordStore
	window  time.Duration
	now     func() time.Time
}

func NewSweeper(ledger tips.Ledger, records RecordStore, window time.Duration) *Sweeper {
	if window <= 0 {
		window = DefaultClaimWindow
	}
	return &Sweeper{
		ledger:  ledger,
		records: records,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run reallocates every paid tip still waiting for a payout whose age
// exceeds the claim window. Tips that settle concurrently fail the
// compare-and-set and are skipped. Run stops between tips when ctx is done.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	now := s.now()
	cutoff := now.Add(-s.window)

	for _, status := range []tips.PayoutStatus{tips.PayoutPending, tips.PayoutPendingDJAccount} {
		expired, err := s.ledger.FindByPayoutStatus(ctx, status, tips.Filter{
			PaymentStatus: tips.PaymentSucceeded,
			CreatedBefore: cutoff,
		})
		if err != nil {
			return report, err
		}

		for _, t := range expired {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Examined++

			ok, err := s.ledger.CompareAndSetPayoutStatus(ctx, t.ID, status, tips.PayoutReallocatedToPool,
				tips.Transition{ReallocatedAt: now})
			if err != nil {
				return report, err
			}
			if !ok {
				report.Skipped++
				continue
			}

			if _, err := s.records.Append(ctx, recordFor(t, now)); err != nil {
				// The repair pass appends it on the next run.
				log.WithError(err).WithField("tip_id", t.ID).Error("Failed to append reallocation record")
			}
			report.Reallocated++
			report.Amount += t.TipAmount

			log.WithFields(log.Fields{
				"tip_id":      t.ID,
				"broadcaster": t.Broadcaster.String(),
				"amount":      t.TipAmount,
				"age_days":    int(now.Sub(t.CreatedAt).Hours() / 24),
			}).Info("Tip reallocated to support pool")
		}
	}

	repaired, err := s.repair(ctx)
	report.Repaired = repaired
	if err != nil {
		return report, fmt.Errorf("audit repair: %w", err)
	}
	return report, nil
}

// repair appends records for tips reallocated within repairLookback that
// lack one, covering a crash between the status change and the append.
func (s *Sweeper) repair(ctx context.Context) (int, error) {
	done, err := s.ledger.FindByPayoutStatus(ctx, tips.PayoutReallocatedToPool, tips.Filter{
		ReallocatedSince: s.now().Add(-repairLookback),
	})
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, t := range done {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		at := s.now()
		if t.ReallocatedAt != nil {
			at = *t.ReallocatedAt
		}
		added, err := s.records.Append(ctx, recordFor(t, at))
		if err != nil {
			return repaired, err
		}
		if added {
			repaired++
		}
	}
	if repaired > 0 {
		log.WithField("count", repaired).Warn("Reallocation records repaired")
	}
	return repaired, nil
}

func recordFor(t *tips.Tip, at time.Time) Record {
	return Record{
		TipID:          t.ID,
		BroadcasterRef: t.Broadcaster.Key(),
		Amount:         t.TipAmount,
		Currency:       t.Currency,
		TippedAt:       t.CreatedAt,
		ReallocatedAt:  at,
	}
}
