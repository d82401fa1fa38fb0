package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/checkout"
	"onair.fm/tipjar/internal/features/tips"
)

func (s *Server) handleCreateTip(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	session, err := s.deps.Checkout.Start(ctx, req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, session)
	case common.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrTransientProcessor), errors.Is(err, common.ErrPermanentProcessor):
		log.WithError(err).Warn("Checkout could not be opened")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable, please try again"})
	default:
		log.WithError(err).Error("Checkout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// tipView is the operator's read model of a tip.
type tipView struct {
	ID                string     `json:"id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	TipperID          string     `json:"tipper_id,omitempty"`
	TipperName        string     `json:"tipper_name,omitempty"`
	BroadcasterID     string     `json:"broadcaster_id,omitempty"`
	BroadcasterEmail  string     `json:"broadcaster_email,omitempty"`
	ShowID            string     `json:"show_id"`
	Message           string     `json:"message,omitempty"`
	TipAmount         int64      `json:"tip_amount"`
	PlatformFee       int64      `json:"platform_fee"`
	Total             int64      `json:"total"`
	Currency          string     `json:"currency"`
	PaymentStatus     string     `json:"payment_status"`
	PayoutStatus      string     `json:"payout_status"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	PaymentIntentID   string     `json:"payment_intent_id,omitempty"`
	TransferID        string     `json:"transfer_id,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	FailureCount      int        `json:"failure_count,omitempty"`
	TransferredAt     *time.Time `json:"transferred_at,omitempty"`
	ReallocatedAt     *time.Time `json:"reallocated_at,omitempty"`
}

func newTipView(t *tips.Tip) tipView {
	id, _ := t.Broadcaster.ID()
	return tipView{
		ID:                t.ID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		TipperID:          t.Tipper.UserID,
		TipperName:        t.Tipper.DisplayName,
		BroadcasterID:     id,
		BroadcasterEmail:  t.Broadcaster.Email(),
		ShowID:            t.ShowID,
		Message:           t.Message,
		TipAmount:         t.TipAmount,
		PlatformFee:       t.PlatformFee,
		Total:             t.Total,
		Currency:          t.Currency,
		PaymentStatus:     string(t.PaymentStatus),
		PayoutStatus:      string(t.PayoutStatus),
		CheckoutSessionID: t.CheckoutSessionID,
		PaymentIntentID:   t.PaymentIntentID,
		TransferID:        t.TransferID,
		FailureReason:     t.FailureReason,
		FailureCount:      t.FailureCount,
		TransferredAt:     t.TransferredAt,
		ReallocatedAt:     t.ReallocatedAt,
	}
}
