package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/processor"
)

// handleStripeWebhook verifies the signature before touching anything.
// Storage failures answer 500 so the processor redelivers; reconciliation
// failures are recovered by the sweeps and answer 200.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ev, err := s.deps.Events.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, common.ErrInvalidSignature) {
			log.WithError(err).Warn("Webhook rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		log.WithError(err).Warn("Webhook could not be decoded")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	entry := log.WithFields(log.Fields{"event_id": ev.ID, "type": ev.Type})
	switch ev.Kind {
	case processor.EventPaymentSucceeded:
		err = s.paymentSucceeded(ctx, ev)
	case processor.EventPaymentFailed:
		err = s.paymentFailed(ctx, ev)
	case processor.EventAccountUpdated:
		err = s.accountUpdated(ctx, ev)
	default:
		entry.Debug("Webhook ignored")
	}

	if err != nil {
		entry.WithError(err).Error("Webhook handling failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) paymentSucceeded(ctx context.Context, ev *processor.Event) error {
	entry := log.WithFields(log.Fields{"event_id": ev.ID, "tip_id": ev.TipID})
	if ev.TipID == "" {
		entry.Warn("Paid session carries no tip id")
		return nil
	}
	changed, err := s.deps.Ledger.SetPaymentStatus(ctx, ev.TipID, tips.PaymentSucceeded, ev.PaymentIntentID)
	if err != nil {
		if errors.Is(err, common.ErrTipNotFound) {
			entry.Warn("Payment confirmed for unknown tip")
			return nil
		}
		return err
	}
	if !changed {
		entry.Debug("Payment confirmation replayed")
	}

	outcome, err := s.deps.Reconciler.OnPaymentConfirmed(ctx, ev.TipID)
	if err != nil {
		entry.WithError(err).Warn("Transfer deferred to the next sweep")
		return nil
	}
	entry.WithField("outcome", outcome).Info("Payment confirmed")
	return nil
}

func (s *Server) paymentFailed(ctx context.Context, ev *processor.Event) error {
	if ev.TipID == "" {
		return nil
	}
	changed, err := s.deps.Ledger.SetPaymentStatus(ctx, ev.TipID, tips.PaymentFailed, ev.PaymentIntentID)
	if err != nil {
		if errors.Is(err, common.ErrTipNotFound) {
			log.WithField("tip_id", ev.TipID).Warn("Payment failure for unknown tip")
			return nil
		}
		return err
	}
	if changed {
		log.WithField("tip_id", ev.TipID).Info("Payment failed")
	}
	return nil
}

func (s *Server) accountUpdated(ctx context.Context, ev *processor.Event) error {
	b, _, err := s.deps.Accounts.Activate(ctx, ev.AccountID, ev.Activated)
	if err != nil {
		if errors.Is(err, common.ErrBroadcasterNotFound) {
			log.WithField("account", ev.AccountID).Debug("Update for an account we do not track")
			return nil
		}
		return err
	}
	if !ev.Activated {
		return nil
	}

	report, err := s.deps.Reconciler.OnAccountActivated(ctx, b.ID)
	if err != nil {
		log.WithError(err).WithField("broadcaster_id", b.ID).Warn("Activation reconcile incomplete")
		return nil
	}
	log.WithFields(log.Fields{
		"broadcaster_id": b.ID,
		"transferred":    report.Transferred,
		"rebound":        report.Rebound,
	}).Info("Account activation reconciled")
	return nil
}
