package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"onair.fm/tipjar/internal/features/expiration"
	"onair.fm/tipjar/internal/features/reconcile"
	"onair.fm/tipjar/internal/features/reminders"
)

type counter struct {
	sweeps, expires, reminds atomic.Int32
	err                      error
}

func (c *counter) Sweep(ctx context.Context) (*reconcile.Report, error) {
	c.sweeps.Add(1)
	return &reconcile.Report{Trigger: "sweep", Processed: 1, Transferred: 1}, c.err
}

type expireFunc func(ctx context.Context) (*expiration.Report, error)

func (f expireFunc) Run(ctx context.Context) (*expiration.Report, error) { return f(ctx) }

type remindFunc func(ctx context.Context) (*reminders.Report, error)

func (f remindFunc) Run(ctx context.Context) (*reminders.Report, error) { return f(ctx) }

func newTestScheduler(c *counter, s Schedules) *Scheduler {
	return NewScheduler(c,
		expireFunc(func(ctx context.Context) (*expiration.Report, error) {
			c.expires.Add(1)
			return &expiration.Report{}, c.err
		}),
		remindFunc(func(ctx context.Context) (*reminders.Report, error) {
			c.reminds.Add(1)
			return nil, c.err
		}),
		s, "UTC")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := newTestScheduler(&counter{}, Schedules{Reconcile: "not a cron", Expire: "0 3 * * *", Remind: "0 * * * *"})
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("expected error for invalid expression")
	}
}

func TestJobsRunOnSchedule(t *testing.T) {
	c := &counter{}
	s := newTestScheduler(c, Schedules{Reconcile: "@every 1s", Expire: "@every 1s", Remind: "@every 1s"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.sweeps.Load() > 0 && c.expires.Load() > 0 && c.reminds.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()

	if c.sweeps.Load() == 0 || c.expires.Load() == 0 || c.reminds.Load() == 0 {
		t.Fatalf("jobs did not run: sweep=%d expire=%d remind=%d", c.sweeps.Load(), c.expires.Load(), c.reminds.Load())
	}
}

func TestJobErrorsDoNotPanic(t *testing.T) {
	c := &counter{err: errors.New("db down")}
	s := newTestScheduler(c, Schedules{})
	s.runSweep(context.Background())
	s.runExpire(context.Background())
	s.runRemind(context.Background())
	if c.sweeps.Load() != 1 || c.expires.Load() != 1 || c.reminds.Load() != 1 {
		t.Fatal("each job should run once")
	}
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	s := NewScheduler(&counter{}, nil, nil, Schedules{}, "Mars/Olympus")
	if s.cron.Location() != time.UTC {
		t.Fatalf("location = %v", s.cron.Location())
	}
}
