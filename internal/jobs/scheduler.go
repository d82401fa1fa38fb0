// Package jobs runs the periodic work of the service on cron schedules:
// the reconciliation sweep, claim-window expiration and payout reminders.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/features/expiration"
	"onair.fm/tipjar/internal/features/reconcile"
	"onair.fm/tipjar/internal/features/reminders"
)

// Sweeper re-attempts pending transfers.
type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

// Expirer reallocates tips whose claim window elapsed.
type Expirer interface {
	Run(ctx context.Context) (*expiration.Report, error)
}

// Reminder e-mails broadcasters with unclaimed tips.
type Reminder interface {
	Run(ctx context.Context) (*reminders.Report, error)
}

// Schedules holds one cron expression per job.
type Schedules struct {
	Reconcile string
	Expire    string
	Remind    string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	expirer   Expirer
	reminder  Reminder
	schedules Schedules
}

// NewScheduler creates the scheduler in the given IANA timezone, falling back to UTC.
func NewScheduler(sweeper Sweeper, expirer Expirer, reminder Reminder, schedules Schedules, timezone string) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", timezone).Warn("Unknown timezone, using UTC")
		loc = time.UTC
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	return &Scheduler{
		cron:      c,
		sweeper:   sweeper,
		expirer:   expirer,
		reminder:  reminder,
		schedules: schedules,
	}
}

// Start registers every job and starts the runner. Jobs receive ctx and
// stop between tips once it is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedules.Reconcile, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedules.Reconcile, err)
	}
	if _, err := s.cron.AddFunc(s.schedules.Expire, func() { s.runExpire(ctx) }); err != nil {
		return fmt.Errorf("invalid expire schedule %q: %w", s.schedules.Expire, err)
	}
	if _, err := s.cron.AddFunc(s.schedules.Remind, func() { s.runRemind(ctx) }); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.schedules.Remind, err)
	}

	s.cron.Start()
	log.WithField("timezone", s.cron.Location().String()).Info("Job scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Job scheduler stopped")
}

func (s *Scheduler) runSweep(ctx context.Context) {
	log.Debug("[CRON] Reconciliation sweep")
	r, err := s.sweeper.Sweep(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Reconciliation sweep failed")
	}
	if r != nil && r.Processed > 0 {
		log.WithFields(log.Fields{
			"processed":   r.Processed,
			"transferred": r.Transferred,
			"failed":      r.Failed,
			"retry":       r.Retry,
			"skipped":     r.Skipped,
		}).Info("[CRON] Reconciliation sweep done")
	}
}

func (s *Scheduler) runExpire(ctx context.Context) {
	log.Info("[CRON] Claim window expiration")
	r, err := s.expirer.Run(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Expiration failed")
	}
	if r != nil {
		log.WithFields(log.Fields{
			"examined":    r.Examined,
			"reallocated": r.Reallocated,
			"repaired":    r.Repaired,
		}).Info("[CRON] Expiration done")
	}
}

func (s *Scheduler) runRemind(ctx context.Context) {
	log.Debug("[CRON] Payout reminders")
	r, err := s.reminder.Run(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Reminders failed")
	}
	if r != nil && (r.Sent > 0 || r.Failed > 0) {
		log.WithFields(log.Fields{
			"sent":   r.Sent,
			"failed": r.Failed,
		}).Info("[CRON] Reminders done")
	}
}
