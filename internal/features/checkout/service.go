// Package checkout turns a listener's tip request into a ledger entry and
// a hosted payment page. The charge settles to the platform balance; the
// broadcaster is paid later by the reconciliation engine.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/processor"
)

// MaxMessageLength caps the listener's note, in characters.
const MaxMessageLength = 280

// Request is what a listener submits.
type Request struct {
	BroadcasterID    string `json:"broadcaster_id"`
	BroadcasterEmail string `json:"broadcaster_email"`
	ShowID           string `json:"show_id"`
	Amount           int64  `json:"amount"`
	Message          string `json:"message"`
	TipperID         string `json:"tipper_id"`
	TipperName       string `json:"tipper_name"`
	TipperEmail      string `json:"tipper_email"`
}

// Session is returned to the listener.
type Session struct {
	TipID       string `json:"tip_id"`
	CheckoutURL string `json:"checkout_url"`
	Amount      int64  `json:"amount"`
	Fee         int64  `json:"fee"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
}

// Directory resolves the broadcaster a tip is for.
type Directory interface {
	ResolveBroadcaster(ctx context.Context, req accounts.ResolveRequest) (tips.BroadcasterRef, error)
	GetAccount(ctx context.Context, broadcasterID string) (*accounts.PayoutAccount, error)
}

// Payments opens checkout sessions.
type Payments interface {
	CreateCheckoutSession(ctx context.Context, req processor.CheckoutRequest) (*processor.CheckoutSession, error)
}

// Options holds the tip limits and redirect targets.
type Options struct {
	Currency   string
	MinAmount  int64
	MaxAmount  int64
	Fees       tips.FeePolicy
	SuccessURL string // "{TIP_ID}" is replaced with the tip id
	CancelURL  string
}

type Service struct {
	ledger    tips.Ledger
	directory Directory
	payments  Payments
	opts      Options
	newID     func() string
}

func NewService(ledger tips.Ledger, directory Directory, payments Payments, opts Options) *Service {
	if opts.Fees.Rate.IsZero() {
		opts.Fees = tips.DefaultFeePolicy
	}
	return &Service{
		ledger:    ledger,
		directory: directory,
		payments:  payments,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// Validate checks a request without side effects. Errors satisfy
// common.IsValidation.
func (s *Service) Validate(req Request) error {
	switch {
	case req.Amount <= 0:
		return common.ErrInvalidAmount
	case req.Amount < s.opts.MinAmount:
		return fmt.Errorf("%w: minimum is %s", common.ErrAmountTooSmall, common.FormatMoney(s.opts.MinAmount, s.opts.Currency))
	case s.opts.MaxAmount > 0 && req.Amount > s.opts.MaxAmount:
		return fmt.Errorf("%w: maximum is %s", common.ErrAmountTooLarge, common.FormatMoney(s.opts.MaxAmount, s.opts.Currency))
	case strings.TrimSpace(req.ShowID) == "":
		return common.ErrMissingShow
	case strings.TrimSpace(req.BroadcasterID) == "" && strings.TrimSpace(req.BroadcasterEmail) == "":
		return common.ErrMissingBroadcaster
	}
	return nil
}

// Start validates the request, records the tip and opens the payment page.
func (s *Service) Start(ctx context.Context, req Request) (*Session, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	breakdown, err := s.opts.Fees.Calculate(req.Amount)
	if err != nil {
		return nil, err
	}

	ref, err := s.directory.ResolveBroadcaster(ctx, accounts.ResolveRequest{
		BroadcasterID: req.BroadcasterID,
		Email:         req.BroadcasterEmail,
	})
	if err != nil {
		if errors.Is(err, common.ErrBroadcasterNotFound) {
			return nil, fmt.Errorf("%w: unknown broadcaster", common.ErrMissingBroadcaster)
		}
		return nil, err
	}

	payout, err := s.initialPayoutStatus(ctx, ref)
	if err != nil {
		return nil, err
	}

	tipID := s.newID()
	session, err := s.payments.CreateCheckoutSession(ctx, processor.CheckoutRequest{
		TipID:          tipID,
		Amount:         breakdown.Total,
		Currency:       s.opts.Currency,
		Description:    "Tip for show " + req.ShowID,
		CustomerEmail:  common.NormalizeEmail(req.TipperEmail),
		SuccessURL:     strings.ReplaceAll(s.opts.SuccessURL, "{TIP_ID}", url.PathEscape(tipID)),
		CancelURL:      s.opts.CancelURL,
		IdempotencyKey: processor.CheckoutKey(tipID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkout: %w", err)
	}

	tip := &tips.Tip{
		ID:                tipID,
		Tipper:            tips.Tipper{UserID: strings.TrimSpace(req.TipperID), DisplayName: strings.TrimSpace(req.TipperName)},
		Broadcaster:       ref,
		ShowID:            strings.TrimSpace(req.ShowID),
		Message:           truncate(strings.TrimSpace(req.Message), MaxMessageLength),
		TipAmount:         breakdown.Tip,
		PlatformFee:       breakdown.Fee,
		Total:             breakdown.Total,
		Currency:          s.opts.Currency,
		PaymentStatus:     tips.PaymentPending,
		PayoutStatus:      payout,
		CheckoutSessionID: session.ID,
	}
	if _, err := s.ledger.Create(ctx, tip); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tip_id":      tipID,
		"broadcaster": ref.String(),
		"total":       breakdown.Total,
		"payout":      payout,
	}).Info("Checkout started")

	return &Session{
		TipID:       tipID,
		CheckoutURL: session.URL,
		Amount:      breakdown.Tip,
		Fee:         breakdown.Fee,
		Total:       breakdown.Total,
		Currency:    s.opts.Currency,
	}, nil
}

// initialPayoutStatus is pending only when the broadcaster can be paid now.
func (s *Service) initialPayoutStatus(ctx context.Context, ref tips.BroadcasterRef) (tips.PayoutStatus, error) {
	id, ok := ref.ID()
	if !ok {
		return tips.PayoutPendingDJAccount, nil
	}
	acc, err := s.directory.GetAccount(ctx, id)
	if err != nil {
		return "", err
	}
	if acc == nil || !acc.Activated {
		return tips.PayoutPendingDJAccount, nil
	}
	return tips.PayoutPending, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
