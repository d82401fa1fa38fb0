package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/features/transfers"
	"onair.fm/tipjar/internal/processor"
)

type fakeProcessor struct {
	mu      sync.Mutex
	byKey   map[string]string
	keys    []string
	moved   int
	failErr error
}

func (f *fakeProcessor) CreateTransfer(ctx context.Context, req processor.TransferRequest) (*processor.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, req.IdempotencyKey)
	if f.failErr != nil {
		return nil, f.failErr
	}
	if id, ok := f.byKey[req.IdempotencyKey]; ok {
		return &processor.Transfer{ID: id}, nil
	}
	id := "tr_" + req.TipID
	f.byKey[req.IdempotencyKey] = id
	f.moved++
	return &processor.Transfer{ID: id}, nil
}

func (f *fakeProcessor) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

type harness struct {
	ledger *tips.MemoryLedger
	dir    *accounts.Directory
	proc   *fakeProcessor
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger: tips.NewMemoryLedger(),
		dir:    accounts.NewDirectory(accounts.NewMemoryStore()),
		proc:   &fakeProcessor{byKey: make(map[string]string)},
	}
	ex := transfers.NewExecutor(h.ledger, h.proc, nil, time.Second)
	h.engine = NewEngine(h.ledger, h.dir, ex)

	ctx := context.Background()
	if _, err := h.dir.Register(ctx, accounts.Broadcaster{ID: "dj-1", Email: "dj@example.com",
		Account: &accounts.PayoutAccount{ExternalID: "acct_1"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return h
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	if _, _, err := h.dir.Activate(context.Background(), "acct_1", true); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func (h *harness) paidTip(t *testing.T, id string, ref tips.BroadcasterRef) {
	t.Helper()
	tip := &tips.Tip{
		ID: id, Broadcaster: ref, ShowID: "show-1",
		TipAmount: 1000, PlatformFee: 150, Total: 1150, Currency: "usd",
	}
	if !ref.IsResolved() {
		tip.PayoutStatus = tips.PayoutPendingDJAccount
	}
	h.createPaid(t, tip)
}

// parkedTip stores a paid tip for a known broadcaster whose account was not
// yet activated at checkout.
func (h *harness) parkedTip(t *testing.T, id, broadcasterID string) {
	t.Helper()
	h.createPaid(t, &tips.Tip{
		ID: id, Broadcaster: tips.Resolved(broadcasterID), ShowID: "show-1",
		TipAmount: 1000, PlatformFee: 150, Total: 1150, Currency: "usd",
		PayoutStatus: tips.PayoutPendingDJAccount,
	})
}

func (h *harness) createPaid(t *testing.T, tip *tips.Tip) {
	t.Helper()
	ctx := context.Background()
	id := tip.ID
	if _, err := h.ledger.Create(ctx, tip); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.ledger.SetPaymentStatus(ctx, id, tips.PaymentSucceeded, ""); err != nil {
		t.Fatalf("SetPaymentStatus: %v", err)
	}
}

func (h *harness) status(t *testing.T, id string) *tips.Tip {
	t.Helper()
	tip, err := h.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return tip
}

func TestRepeatedPaymentConfirmationTransfersOnce(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	h.paidTip(t, "t1", tips.Resolved("dj-1"))
	ctx := context.Background()

	transferred := 0
	for i := 0; i < 5; i++ {
		outcome, err := h.engine.OnPaymentConfirmed(ctx, "t1")
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if outcome == OutcomeTransferred {
			transferred++
		}
	}
	if transferred != 1 || h.proc.moved != 1 {
		t.Fatalf("transferred=%d moved=%d", transferred, h.proc.moved)
	}
	if got := h.status(t, "t1"); got.PayoutStatus != tips.PayoutTransferred {
		t.Fatalf("status = %s", got.PayoutStatus)
	}
}

func TestPaymentConfirmedBeforeActivationWaits(t *testing.T) {
	h := newHarness(t)
	h.paidTip(t, "t1", tips.Resolved("dj-1"))
	ctx := context.Background()

	outcome, err := h.engine.OnPaymentConfirmed(ctx, "t1")
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	if h.proc.moved != 0 {
		t.Fatal("transfer to an unactivated account")
	}

	h.activate(t)
	report, err := h.engine.OnAccountActivated(ctx, "dj-1")
	if err != nil {
		t.Fatalf("OnAccountActivated: %v", err)
	}
	if report.Transferred != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestUnpaidTipIsNeverTransferred(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	ctx := context.Background()
	if _, err := h.ledger.Create(ctx, &tips.Tip{
		ID: "t1", Broadcaster: tips.Resolved("dj-1"), ShowID: "s",
		TipAmount: 1000, PlatformFee: 150, Total: 1150, Currency: "usd",
	}); err != nil {
		t.Fatal(err)
	}
	outcome, err := h.engine.AttemptTip(ctx, "t1")
	if err != nil || outcome != OutcomeSkipped || h.proc.moved != 0 {
		t.Fatalf("outcome=%s err=%v moved=%d", outcome, err, h.proc.moved)
	}
}

func TestActivationRebindsAndTransfers(t *testing.T) {
	h := newHarness(t)
	h.paidTip(t, "t1", tips.Unresolved("dj@example.com"))
	h.paidTip(t, "t2", tips.Unresolved("someone-else@example.com"))
	ctx := context.Background()

	if outcome, _ := h.engine.OnPaymentConfirmed(ctx, "t1"); outcome != OutcomeSkipped {
		t.Fatalf("unresolved tip outcome = %s", outcome)
	}

	h.activate(t)
	report, err := h.engine.OnAccountActivated(ctx, "dj-1")
	if err != nil {
		t.Fatalf("OnAccountActivated: %v", err)
	}
	if report.Rebound != 1 || report.Transferred != 1 {
		t.Fatalf("report = %+v", report)
	}

	got := h.status(t, "t1")
	if id, ok := got.Broadcaster.ID(); !ok || id != "dj-1" {
		t.Fatalf("broadcaster = %s", got.Broadcaster)
	}
	if got.PayoutStatus != tips.PayoutTransferred || got.TransferID != "tr_t1" {
		t.Fatalf("tip = %s %q", got.PayoutStatus, got.TransferID)
	}
	if other := h.status(t, "t2"); other.Broadcaster.IsResolved() || other.PayoutStatus != tips.PayoutPendingDJAccount {
		t.Fatalf("unrelated tip touched: %+v", other)
	}
}

func TestRebindingSurvivesFailedTransfer(t *testing.T) {
	h := newHarness(t)
	h.paidTip(t, "t1", tips.Unresolved("dj@example.com"))
	h.activate(t)
	h.proc.setFailure(&processor.Error{Op: "transfer", Status: 503})
	ctx := context.Background()

	report, err := h.engine.OnAccountActivated(ctx, "dj-1")
	if err != nil {
		t.Fatalf("OnAccountActivated: %v", err)
	}
	if report.Rebound != 1 || report.Retry != 1 {
		t.Fatalf("report = %+v", report)
	}
	got := h.status(t, "t1")
	if !got.Broadcaster.IsResolved() || got.PayoutStatus != tips.PayoutPending {
		t.Fatalf("tip = %s %s", got.Broadcaster, got.PayoutStatus)
	}

	h.proc.setFailure(nil)
	report, err = h.engine.Resync(ctx, "dj-1")
	if err != nil || report.Transferred != 1 || report.Rebound != 0 {
		t.Fatalf("resync report=%+v err=%v", report, err)
	}
}

func TestResyncRetriesFailedTips(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	h.paidTip(t, "t1", tips.Resolved("dj-1"))
	ctx := context.Background()

	h.proc.setFailure(&processor.Error{Op: "transfer", Status: 400, Code: "account_invalid", Permanent: true})
	if outcome, _ := h.engine.OnPaymentConfirmed(ctx, "t1"); outcome != OutcomeFailed {
		t.Fatalf("outcome = %s", outcome)
	}
	if got := h.status(t, "t1"); got.PayoutStatus != tips.PayoutFailed {
		t.Fatalf("status = %s", got.PayoutStatus)
	}

	// Failed tips wait for resync.
	if report, _ := h.engine.Sweep(ctx); report.Processed != 0 {
		t.Fatalf("sweep touched failed tip: %+v", report)
	}

	h.proc.setFailure(nil)
	report, err := h.engine.Resync(ctx, "dj-1")
	if err != nil || report.Transferred != 1 {
		t.Fatalf("report=%+v err=%v", report, err)
	}
	again, err := h.engine.Resync(ctx, "dj-1")
	if err != nil || again.Processed != 0 || h.proc.moved != 1 {
		t.Fatalf("second resync report=%+v moved=%d err=%v", again, h.proc.moved, err)
	}
	if len(h.proc.keys) != 2 || h.proc.keys[0] == h.proc.keys[1] || h.proc.keys[1] != "tip-transfer-t1-r1" {
		t.Fatalf("keys = %v", h.proc.keys)
	}
}

func TestSweepAndResyncRaceTransferOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		h.activate(t)
		h.paidTip(t, "t1", tips.Resolved("dj-1"))
		ctx := context.Background()

		var wg sync.WaitGroup
		reports := make([]*Report, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			reports[0], _ = h.engine.Sweep(ctx)
		}()
		go func() {
			defer wg.Done()
			reports[1], _ = h.engine.Resync(ctx, "dj-1")
		}()
		wg.Wait()

		total := 0
		for _, r := range reports {
			if r != nil {
				total += r.Transferred
			}
		}
		if total != 1 || h.proc.moved != 1 {
			t.Fatalf("round %d: transferred=%d moved=%d", round, total, h.proc.moved)
		}
	}
}

func TestTerminalTipsIgnoredByEveryTrigger(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	h.paidTip(t, "t1", tips.Resolved("dj-1"))
	ctx := context.Background()

	ok, err := h.ledger.CompareAndSetPayoutStatus(ctx, "t1", tips.PayoutPending, tips.PayoutReallocatedToPool,
		tips.Transition{ReallocatedAt: time.Now()})
	if err != nil || !ok {
		t.Fatalf("reallocate: ok=%v err=%v", ok, err)
	}

	if outcome, err := h.engine.OnPaymentConfirmed(ctx, "t1"); err != nil || outcome != OutcomeSkipped {
		t.Fatalf("payment trigger: %s %v", outcome, err)
	}
	if r, err := h.engine.Resync(ctx, "dj-1"); err != nil || r.Processed != 0 {
		t.Fatalf("resync: %+v %v", r, err)
	}
	if r, err := h.engine.Sweep(ctx); err != nil || r.Processed != 0 {
		t.Fatalf("sweep: %+v %v", r, err)
	}
	if h.proc.moved != 0 {
		t.Fatal("reallocated tip was transferred")
	}
	if got := h.status(t, "t1"); got.PayoutStatus != tips.PayoutReallocatedToPool {
		t.Fatalf("status = %s", got.PayoutStatus)
	}
}

func TestSweepSkipsUnactivatedAndStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.paidTip(t, "t1", tips.Resolved("dj-1"))
	ctx := context.Background()

	report, err := h.engine.Sweep(ctx)
	if err != nil || report.Skipped != 1 || h.proc.moved != 0 {
		t.Fatalf("report=%+v err=%v", report, err)
	}

	h.activate(t)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := h.engine.Sweep(cancelled); err == nil {
		t.Fatal("expected context error")
	}
	if h.proc.moved != 0 {
		t.Fatal("cancelled sweep transferred")
	}
}

func TestSweepRecoversMissedActivation(t *testing.T) {
	h := newHarness(t)
	h.parkedTip(t, "t1", "dj-1")
	h.parkedTip(t, "t2", "dj-2")
	ctx := context.Background()

	// Activation lands in the directory but the engine never hears about it.
	h.activate(t)

	report, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Transferred != 1 || report.Skipped != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := h.status(t, "t1"); got.PayoutStatus != tips.PayoutTransferred || got.TransferID != "tr_t1" {
		t.Fatalf("tip = %s %q", got.PayoutStatus, got.TransferID)
	}
	if got := h.status(t, "t2"); got.PayoutStatus != tips.PayoutPendingDJAccount {
		t.Fatalf("unknown broadcaster tip = %s", got.PayoutStatus)
	}

	again, err := h.engine.Sweep(ctx)
	if err != nil || again.Transferred != 0 || h.proc.moved != 1 {
		t.Fatalf("second sweep report=%+v moved=%d err=%v", again, h.proc.moved, err)
	}
}
