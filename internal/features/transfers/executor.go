// Package transfers performs exactly one transfer attempt for a tip and
// records the result on the ledger.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/processor"
)

// Outcome describes what one attempt did.
type Outcome string

const (
	OutcomeTransferred Outcome = "transferred"
	OutcomeSuperseded  Outcome = "superseded" // another caller settled the tip first
	OutcomeTransient   Outcome = "transient"
	OutcomeFailed      Outcome = "failed"
)

// Result is returned for every attempt that reached the processor.
type Result struct {
	Outcome    Outcome
	TransferID string
}

// Transferer is the part of the processor the executor needs.
type Transferer interface {
	CreateTransfer(ctx context.Context, req processor.TransferRequest) (*processor.Transfer, error)
}

// Alerter receives permanent-failure alerts.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Executor sends transfers.
type Executor struct {
	ledger  tips.Ledger
	proc    Transferer
	alerts  Alerter
	timeout time.Duration
	now     func() time.Time
}

// NewExecutor creates an executor. timeout bounds each processor call.
func NewExecutor(ledger tips.Ledger, proc Transferer, alerts Alerter, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		ledger:  ledger,
		proc:    proc,
		alerts:  alerts,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Execute attempts the transfer of t to account.
//
// The tip must be in payout status pending and the account activated.
// The processor call carries the deterministic key for the tip, so a
// repeated call after a lost response cannot move funds twice; the ledger
// compare-and-set decides which caller records the result.
func (e *Executor) Execute(ctx context.Context, t *tips.Tip, account accounts.PayoutAccount) (*Result, error) {
	if t.IsSettled() {
		return nil, fmt.Errorf("%w (tip=%s, status=%s)", common.ErrAlreadySettled, t.ID, t.PayoutStatus)
	}
	if t.PayoutStatus != tips.PayoutPending {
		return nil, fmt.Errorf("%w: tip %s is %s, want %s",
			common.ErrInvalidTransition, t.ID, t.PayoutStatus, tips.PayoutPending)
	}
	if !account.Activated || account.ExternalID == "" {
		return nil, fmt.Errorf("%w (broadcaster=%s)", common.ErrAccountNotActivated, account.BroadcasterID)
	}

	logger := log.WithFields(log.Fields{
		"tip_id":         t.ID,
		"broadcaster_id": account.BroadcasterID,
		"amount":         t.TipAmount,
	})

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	transfer, err := e.proc.CreateTransfer(callCtx, processor.TransferRequest{
		TipID:          t.ID,
		Destination:    account.ExternalID,
		Amount:         t.TipAmount,
		Currency:       t.Currency,
		IdempotencyKey: processor.TransferKey(t.ID, t.FailureCount),
	})
	cancel()

	if err != nil {
		if !processor.IsPermanent(err) {
			logger.WithError(err).Warn("Transfer attempt failed, will retry")
			return &Result{Outcome: OutcomeTransient}, fmt.Errorf("%w: %v", common.ErrTransientProcessor, err)
		}
		return e.recordFailure(ctx, t, account, err, logger)
	}

	ok, casErr := e.ledger.CompareAndSetPayoutStatus(ctx, t.ID, tips.PayoutPending, tips.PayoutTransferred,
		tips.Transition{TransferID: transfer.ID, TransferredAt: e.now()})
	if casErr != nil {
		// The transfer exists at the processor; the next attempt re-sends the
		// same key, receives the same transfer and records it.
		logger.WithError(casErr).WithField("transfer_id", transfer.ID).Error("Transfer succeeded but was not recorded")
		return nil, casErr
	}
	if !ok {
		logger.WithField("transfer_id", transfer.ID).Info("Tip settled by another caller")
		return &Result{Outcome: OutcomeSuperseded, TransferID: transfer.ID}, nil
	}

	logger.WithField("transfer_id", transfer.ID).Info("Tip transferred")
	return &Result{Outcome: OutcomeTransferred, TransferID: transfer.ID}, nil
}

func (e *Executor) recordFailure(ctx context.Context, t *tips.Tip, account accounts.PayoutAccount, cause error, logger *log.Entry) (*Result, error) {
	reason := cause.Error()
	var pe *processor.Error
	if errors.As(cause, &pe) && pe.Code != "" {
		reason = pe.Code + ": " + pe.Message
	}

	ok, err := e.ledger.CompareAndSetPayoutStatus(ctx, t.ID, tips.PayoutPending, tips.PayoutFailed,
		tips.Transition{FailureReason: reason})
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("Tip settled by another caller before failure was recorded")
		return &Result{Outcome: OutcomeSuperseded}, nil
	}

	logger.WithField("reason", reason).Error("Transfer rejected by processor")
	if e.alerts != nil {
		text := fmt.Sprintf("Transfer rejected\ntip: %s\nbroadcaster: %s\namount: %s\nreason: %s",
			t.ID, account.BroadcasterID, common.FormatMoney(t.TipAmount, t.Currency), reason)
		if aerr := e.alerts.Alert(ctx, text); aerr != nil {
			logger.WithError(aerr).Warn("Failed to deliver operator alert")
		}
	}
	return &Result{Outcome: OutcomeFailed}, fmt.Errorf("%w: %v", common.ErrPermanentProcessor, cause)
}
