package tips

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"onair.fm/tipjar/internal/common"
)

func newTestTip(id string, ref BroadcasterRef) *Tip {
	return &Tip{
		ID:          id,
		Tipper:      Tipper{DisplayName: "listener"},
		Broadcaster: ref,
		ShowID:      "show-1",
		TipAmount:   1000,
		PlatformFee: 150,
		Total:       1150,
		Currency:    "usd",
	}
}

func TestMemoryLedgerCreateDefaults(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Create(ctx, newTestTip("a", Resolved("dj-1"))); err != nil {
		t.Fatalf("create resolved: %v", err)
	}
	if _, err := l.Create(ctx, newTestTip("b", Unresolved("dj@example.com"))); err != nil {
		t.Fatalf("create unresolved: %v", err)
	}

	a, _ := l.Get(ctx, "a")
	if a.PayoutStatus != PayoutPending || a.PaymentStatus != PaymentPending {
		t.Fatalf("resolved tip starts as %s/%s", a.PaymentStatus, a.PayoutStatus)
	}
	b, _ := l.Get(ctx, "b")
	if b.PayoutStatus != PayoutPendingDJAccount {
		t.Fatalf("unresolved tip starts as %s", b.PayoutStatus)
	}
}

func TestMemoryLedgerRejectsBrokenTotals(t *testing.T) {
	tip := newTestTip("a", Resolved("dj-1"))
	tip.Total = 999
	if _, err := NewMemoryLedger().Create(context.Background(), tip); err == nil {
		t.Fatalf("expected total invariant violation")
	}
}

func TestMemoryLedgerGetMissing(t *testing.T) {
	_, err := NewMemoryLedger().Get(context.Background(), "nope")
	if !errors.Is(err, common.ErrTipNotFound) {
		t.Fatalf("error = %v, want ErrTipNotFound", err)
	}
}

func TestCompareAndSetConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if _, err := l.Create(ctx, newTestTip("a", Resolved("dj-1"))); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.CompareAndSetPayoutStatus(ctx, "a", PayoutPending, PayoutTransferred,
				Transition{TransferID: "tr_1", TransferredAt: time.Now()})
			if err != nil {
				t.Errorf("cas: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestTerminalStatesRejectEveryTransition(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Create(ctx, newTestTip("sent", Resolved("dj-1")))
	l.Create(ctx, newTestTip("pool", Resolved("dj-1")))

	if ok, _ := l.CompareAndSetPayoutStatus(ctx, "sent", PayoutPending, PayoutTransferred,
		Transition{TransferID: "tr_1", TransferredAt: time.Now()}); !ok {
		t.Fatalf("transfer should succeed")
	}
	if ok, _ := l.CompareAndSetPayoutStatus(ctx, "pool", PayoutPending, PayoutReallocatedToPool,
		Transition{ReallocatedAt: time.Now()}); !ok {
		t.Fatalf("reallocation should succeed")
	}

	all := []PayoutStatus{PayoutPending, PayoutPendingDJAccount, PayoutTransferred, PayoutFailed, PayoutReallocatedToPool}
	for _, id := range []string{"sent", "pool"} {
		before, _ := l.Get(ctx, id)
		for _, expected := range all {
			for _, next := range all {
				ok, _ := l.CompareAndSetPayoutStatus(ctx, id, expected, next, Transition{TransferID: "tr_2"})
				if ok {
					t.Fatalf("%s: %s → %s succeeded on a terminal tip", id, expected, next)
				}
			}
		}
		after, _ := l.Get(ctx, id)
		if after.PayoutStatus != before.PayoutStatus || after.TransferID != before.TransferID {
			t.Fatalf("%s changed: %+v → %+v", id, before, after)
		}
	}
}

func TestCompareAndSetInvalidTransition(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Create(ctx, newTestTip("a", Unresolved("dj@example.com")))

	ok, err := l.CompareAndSetPayoutStatus(ctx, "a", PayoutPendingDJAccount, PayoutTransferred, Transition{})
	if ok || !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("got %v, %v; want false, ErrInvalidTransition", ok, err)
	}
}

func TestTransitionTimestampsSetOnce(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Create(ctx, newTestTip("a", Resolved("dj-1")))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.CompareAndSetPayoutStatus(ctx, "a", PayoutPending, PayoutFailed, Transition{FailureReason: "no such destination"})
	l.CompareAndSetPayoutStatus(ctx, "a", PayoutFailed, PayoutPending, Transition{})
	l.CompareAndSetPayoutStatus(ctx, "a", PayoutPending, PayoutTransferred, Transition{TransferID: "tr_9", TransferredAt: at})

	got, _ := l.Get(ctx, "a")
	if got.TransferredAt == nil || !got.TransferredAt.Equal(at) || got.TransferID != "tr_9" {
		t.Fatalf("transfer fields not recorded: %+v", got)
	}
	if got.ReallocatedAt != nil {
		t.Fatalf("reallocated_at set by a transfer")
	}
	if got.FailureCount != 1 || got.FailureReason != "no such destination" {
		t.Fatalf("failure fields = %d %q", got.FailureCount, got.FailureReason)
	}
}

func TestFindByReallocatedSince(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Create(ctx, newTestTip("old", Resolved("dj-1")))
	l.Create(ctx, newTestTip("new", Resolved("dj-1")))
	l.Create(ctx, newTestTip("open", Resolved("dj-1")))

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.CompareAndSetPayoutStatus(ctx, "old", PayoutPending, PayoutReallocatedToPool, Transition{ReallocatedAt: cutoff.Add(-time.Hour)})
	l.CompareAndSetPayoutStatus(ctx, "new", PayoutPending, PayoutReallocatedToPool, Transition{ReallocatedAt: cutoff})

	found, err := l.FindByPayoutStatus(ctx, PayoutReallocatedToPool, Filter{ReallocatedSince: cutoff})
	if err != nil {
		t.Fatalf("FindByPayoutStatus: %v", err)
	}
	if len(found) != 1 || found[0].ID != "new" {
		t.Fatalf("found %d tips, want only \"new\"", len(found))
	}
}

func TestSetPaymentStatusOnce(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Create(ctx, newTestTip("a", Resolved("dj-1")))

	ok, err := l.SetPaymentStatus(ctx, "a", PaymentSucceeded, "pi_1")
	if err != nil || !ok {
		t.Fatalf("first confirmation: %v, %v", ok, err)
	}
	ok, err = l.SetPaymentStatus(ctx, "a", PaymentSucceeded, "pi_1")
	if err != nil || ok {
		t.Fatalf("duplicate confirmation: %v, %v", ok, err)
	}
	ok, _ = l.SetPaymentStatus(ctx, "a", PaymentFailed, "")
	if ok {
		t.Fatalf("payment status changed twice")
	}
	got, _ := l.Get(ctx, "a")
	if got.PaymentStatus != PaymentSucceeded || got.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected payment fields: %+v", got)
	}
}

func TestBindBroadcasterIsOneWay(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Create(ctx, newTestTip("a", Unresolved("dj@example.com")))

	if ok, err := l.BindBroadcaster(ctx, "a", "dj-1"); err != nil || !ok {
		t.Fatalf("bind: %v, %v", ok, err)
	}
	if ok, _ := l.BindBroadcaster(ctx, "a", "dj-2"); ok {
		t.Fatalf("rebinding a resolved tip must be a no-op")
	}
	got, _ := l.Get(ctx, "a")
	if id, _ := got.Broadcaster.ID(); id != "dj-1" {
		t.Fatalf("broadcaster = %q, want dj-1", id)
	}
	if got.PayoutStatus != PayoutPendingDJAccount {
		t.Fatalf("binding must not touch payout status, got %s", got.PayoutStatus)
	}
}

func TestFindByPayoutStatusFilters(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, ref := range []BroadcasterRef{Resolved("dj-1"), Resolved("dj-2"), Unresolved("x@example.com"), Resolved("dj-1")} {
		tip := newTestTip(string(rune('a'+i)), ref)
		tip.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		l.Create(ctx, tip)
	}
	l.SetPaymentStatus(ctx, "a", PaymentSucceeded, "")
	l.SetPaymentStatus(ctx, "d", PaymentSucceeded, "")

	got, _ := l.FindByPayoutStatus(ctx, PayoutPending, Filter{BroadcasterID: "dj-1"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Fatalf("by broadcaster: %v", ids(got))
	}
	got, _ = l.FindByPayoutStatus(ctx, PayoutPendingDJAccount, Filter{PendingEmail: "x@example.com"})
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("by email: %v", ids(got))
	}
	got, _ = l.FindByPayoutStatus(ctx, PayoutPending, Filter{PaymentStatus: PaymentSucceeded, CreatedBefore: base.Add(2 * time.Hour)})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("by payment/created: %v", ids(got))
	}
	got, _ = l.FindByPayoutStatus(ctx, PayoutPending, Filter{Limit: 1})
	if len(got) != 1 {
		t.Fatalf("limit ignored: %v", ids(got))
	}
}

func ids(ts []*Tip) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
