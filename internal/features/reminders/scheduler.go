package reminders

import (
	"context"
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/notify"
)

// Broadcasters looks up broadcaster identities.
type Broadcasters interface {
	Broadcaster(ctx context.Context, id string) (*accounts.Broadcaster, error)
}

// Scheduler sends payout reminders.
type Scheduler struct {
	ledger        tips.Ledger
	broadcasters  Broadcasters
	records       RecordStore
	mailer        notify.Mailer
	markers       []int
	claimWindow   time.Duration
	onboardingURL string
	now           func() time.Time
}

// Options configures the scheduler.
type Options struct {
	Markers       []int
	ClaimWindow   time.Duration
	OnboardingURL string
}

func NewScheduler(ledger tips.Ledger, broadcasters Broadcasters, records RecordStore, mailer notify.Mailer, opts Options) *Scheduler {
	markers := append([]int(nil), opts.Markers...)
	if len(markers) == 0 {
		markers = append(markers, DefaultMarkers...)
	}
	sort.Ints(markers)
	return &Scheduler{
		ledger:        ledger,
		broadcasters:  broadcasters,
		records:       records,
		mailer:        mailer,
		markers:       markers,
		claimWindow:   opts.ClaimWindow,
		onboardingURL: opts.OnboardingURL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run sends at most one reminder per broadcaster and marker. Delivery
// failures are logged and retried on the next run.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	groups, err := s.collect(ctx)
	if err != nil {
		return report, err
	}
	report.Broadcasters = len(groups)
	now := s.now()

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		days := common.DaysBetween(g.oldest, now)
		marker, ok := s.markerFor(days)
		if !ok {
			report.Skipped++
			continue
		}

		name := ""
		if g.broadcasterID != "" {
			b, err := s.broadcasters.Broadcaster(ctx, g.broadcasterID)
			if err != nil && !errors.Is(err, common.ErrBroadcasterNotFound) {
				log.WithError(err).WithField("broadcaster_id", g.broadcasterID).Warn("Reminder: lookup failed")
				report.Failed++
				continue
			}
			if b != nil {
				if b.IsActivated() {
					report.Skipped++
					continue
				}
				g.email = b.Email
				name = b.DisplayName
			}
		}
		if g.email == "" {
			report.Skipped++
			continue
		}

		logger := log.WithFields(log.Fields{"broadcaster": g.key, "marker": marker, "days": days})
		sent, err := s.records.Sent(ctx, g.key, marker)
		if err != nil {
			logger.WithError(err).Warn("Reminder: record lookup failed")
			report.Failed++
			continue
		}
		if sent {
			report.Skipped++
			continue
		}

		msg, err := s.compose(g, name, days)
		if err != nil {
			logger.WithError(err).Error("Reminder: failed to render e-mail")
			report.Failed++
			continue
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			logger.WithError(err).Warn("Reminder: delivery failed")
			report.Failed++
			continue
		}
		if err := s.records.Record(ctx, g.key, marker, now); err != nil {
			logger.WithError(err).Warn("Reminder sent but not recorded")
		}
		report.Sent++
		logger.Info("Payout reminder sent")
	}
	return report, nil
}

// markerFor picks the largest marker not exceeding days.
func (s *Scheduler) markerFor(days int) (int, bool) {
	best, ok := 0, false
	for _, m := range s.markers {
		if m <= days {
			best, ok = m, true
		}
	}
	return best, ok
}

func (s *Scheduler) collect(ctx context.Context) ([]*waiting, error) {
	byKey := make(map[string]*waiting)
	for _, status := range []tips.PayoutStatus{tips.PayoutPending, tips.PayoutPendingDJAccount, tips.PayoutFailed} {
		found, err := s.ledger.FindByPayoutStatus(ctx, status, tips.Filter{PaymentStatus: tips.PaymentSucceeded})
		if err != nil {
			return nil, err
		}
		for _, t := range found {
			key := t.Broadcaster.Key()
			g, ok := byKey[key]
			if !ok {
				g = &waiting{key: key, email: t.Broadcaster.Email(), oldest: t.CreatedAt, currency: t.Currency}
				g.broadcasterID, _ = t.Broadcaster.ID()
				byKey[key] = g
			}
			if t.CreatedAt.Before(g.oldest) {
				g.oldest = t.CreatedAt
			}
			g.count++
			if t.Currency == g.currency {
				g.amount += t.TipAmount
			}
		}
	}

	out := make([]*waiting, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}
