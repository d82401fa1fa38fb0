// Package reconcile drives tips towards a transfer. Every trigger (payment
// confirmed, account activated, manual resync, periodic sweep) funnels into
// one per-tip procedure, AttemptTip, which is safe to run any number of
// times and concurrently: the ledger compare-and-set decides every payout
// change, and the processor idempotency key guards the transfer itself.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/features/transfers"
)

// Outcome of one AttemptTip call.
type Outcome string

const (
	OutcomeTransferred Outcome = "transferred"
	OutcomeFailed      Outcome = "failed"
	OutcomeRetry       Outcome = "retry"   // transient processor error, status unchanged
	OutcomeSkipped     Outcome = "skipped" // nothing to do right now
)

// Accounts is the slice of the payout account directory the engine reads.
type Accounts interface {
	GetAccount(ctx context.Context, broadcasterID string) (*accounts.PayoutAccount, error)
	Broadcaster(ctx context.Context, id string) (*accounts.Broadcaster, error)
}

// Executor performs one transfer attempt.
type Executor interface {
	Execute(ctx context.Context, t *tips.Tip, account accounts.PayoutAccount) (*transfers.Result, error)
}

// Engine is the reconciliation orchestrator.
type Engine struct {
	ledger   tips.Ledger
	accounts Accounts
	executor Executor
}

func NewEngine(ledger tips.Ledger, accts Accounts, executor Executor) *Engine {
	return &Engine{ledger: ledger, accounts: accts, executor: executor}
}

// OnPaymentConfirmed runs the procedure for a freshly paid tip.
func (e *Engine) OnPaymentConfirmed(ctx context.Context, tipID string) (Outcome, error) {
	return e.AttemptTip(ctx, tipID)
}

// OnAccountActivated reconciles every open tip of the broadcaster: tips
// already bound to its id, and unresolved tips recorded with its e-mail,
// which are rebound first.
func (e *Engine) OnAccountActivated(ctx context.Context, broadcasterID string) (*Report, error) {
	return e.reconcileBroadcaster(ctx, broadcasterID, "activation")
}

// Resync is the operator-triggered equivalent of OnAccountActivated.
// Running it repeatedly is harmless.
func (e *Engine) Resync(ctx context.Context, broadcasterID string) (*Report, error) {
	return e.reconcileBroadcaster(ctx, broadcasterID, "resync")
}

// Sweep re-attempts every paid tip waiting for a transfer whose broadcaster
// is activated. Tips parked in pending_dj_account are included so a missed
// activation event is recovered here. Failed tips are left to resync.
// It stops between tips when ctx is cancelled.
func (e *Engine) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{Trigger: "sweep"}
	activated := make(map[string]bool)

	for _, status := range []tips.PayoutStatus{tips.PayoutPending, tips.PayoutPendingDJAccount} {
		waiting, err := e.ledger.FindByPayoutStatus(ctx, status, tips.Filter{PaymentStatus: tips.PaymentSucceeded})
		if err != nil {
			return report, err
		}

		for _, t := range waiting {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			id, ok := t.Broadcaster.ID()
			if !ok {
				report.add(OutcomeSkipped)
				continue
			}
			active, seen := activated[id]
			if !seen {
				acc, err := e.accounts.GetAccount(ctx, id)
				if err != nil && !errors.Is(err, common.ErrBroadcasterNotFound) {
					log.WithError(err).WithField("broadcaster_id", id).Warn("Sweep: account lookup failed")
					report.add(OutcomeSkipped)
					continue
				}
				active = acc != nil && acc.Activated
				activated[id] = active
			}
			if !active {
				report.add(OutcomeSkipped)
				continue
			}
			outcome, err := e.AttemptTip(ctx, t.ID)
			if err != nil {
				log.WithError(err).WithField("tip_id", t.ID).Warn("Sweep: attempt failed")
			}
			report.add(outcome)
		}
	}
	return report, nil
}

func (e *Engine) reconcileBroadcaster(ctx context.Context, broadcasterID, trigger string) (*Report, error) {
	report := &Report{Trigger: trigger, BroadcasterID: broadcasterID}
	b, err := e.accounts.Broadcaster(ctx, broadcasterID)
	if err != nil {
		return report, err
	}

	if b.Email != "" {
		unresolved, err := e.ledger.FindByPayoutStatus(ctx, tips.PayoutPendingDJAccount, tips.Filter{PendingEmail: b.Email})
		if err != nil {
			return report, err
		}
		for _, t := range unresolved {
			bound, err := e.ledger.BindBroadcaster(ctx, t.ID, b.ID)
			if err != nil {
				return report, fmt.Errorf("failed to rebind tip %s: %w", t.ID, err)
			}
			if bound {
				report.Rebound++
				log.WithFields(log.Fields{"tip_id": t.ID, "broadcaster_id": b.ID}).Info("Tip bound to broadcaster")
			}
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, status := range []tips.PayoutStatus{tips.PayoutPending, tips.PayoutPendingDJAccount, tips.PayoutFailed} {
		found, err := e.ledger.FindByPayoutStatus(ctx, status, tips.Filter{
			BroadcasterID: b.ID,
			PaymentStatus: tips.PaymentSucceeded,
		})
		if err != nil {
			return report, err
		}
		for _, t := range found {
			if !seen[t.ID] {
				seen[t.ID] = true
				ids = append(ids, t.ID)
			}
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := e.AttemptTip(ctx, id)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"tip_id": id, "trigger": trigger}).Warn("Attempt failed")
		}
		report.add(outcome)
	}

	log.WithFields(log.Fields{
		"trigger":        trigger,
		"broadcaster_id": b.ID,
		"processed":      report.Processed,
		"transferred":    report.Transferred,
		"failed":         report.Failed,
		"rebound":        report.Rebound,
	}).Info("Broadcaster reconciled")
	return report, nil
}

// AttemptTip reloads the tip and, when everything lines up, performs one
// transfer attempt. Lost races and unmet preconditions are skipped, never
// errors. Processor failures are reported through the outcome; the error
// carries the detail for logging.
func (e *Engine) AttemptTip(ctx context.Context, tipID string) (Outcome, error) {
	t, err := e.ledger.Get(ctx, tipID)
	if err != nil {
		return OutcomeSkipped, err
	}
	logger := log.WithFields(log.Fields{"tip_id": t.ID, "status": t.PayoutStatus})

	if t.PaymentStatus != tips.PaymentSucceeded || t.IsSettled() {
		return OutcomeSkipped, nil
	}
	broadcasterID, ok := t.Broadcaster.ID()
	if !ok {
		logger.Debug("Broadcaster unresolved, waiting for activation")
		return OutcomeSkipped, nil
	}

	acc, err := e.accounts.GetAccount(ctx, broadcasterID)
	if err != nil {
		if errors.Is(err, common.ErrBroadcasterNotFound) {
			logger.WithField("broadcaster_id", broadcasterID).Warn("Tip references unknown broadcaster")
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}
	if acc == nil || !acc.Activated {
		return OutcomeSkipped, nil
	}

	if t.PayoutStatus != tips.PayoutPending {
		ok, err := e.ledger.CompareAndSetPayoutStatus(ctx, t.ID, t.PayoutStatus, tips.PayoutPending, tips.Transition{})
		if err != nil {
			return OutcomeSkipped, err
		}
		if !ok {
			logger.Debug("Tip changed concurrently, leaving it to the other caller")
			return OutcomeSkipped, nil
		}
		t.PayoutStatus = tips.PayoutPending
	}

	res, err := e.executor.Execute(ctx, t, *acc)
	switch {
	case errors.Is(err, common.ErrTransientProcessor):
		return OutcomeRetry, err
	case errors.Is(err, common.ErrPermanentProcessor):
		return OutcomeFailed, err
	case errors.Is(err, common.ErrAlreadySettled), errors.Is(err, common.ErrAccountNotActivated):
		return OutcomeSkipped, nil
	case err != nil:
		return OutcomeRetry, err
	}

	switch res.Outcome {
	case transfers.OutcomeTransferred:
		return OutcomeTransferred, nil
	case transfers.OutcomeFailed:
		return OutcomeFailed, nil
	default:
		return OutcomeSkipped, nil
	}
}
