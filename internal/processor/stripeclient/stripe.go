// Package stripeclient implements processor.Client on top of stripe-go.
package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/processor"
)

// Options configures the adapter.
type Options struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int64
	BaseURL       string // overrides the API endpoint, tests only
}

// Client talks to the Stripe API.
type Client struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

// New builds a Stripe client with a bounded HTTP timeout.
// Network retries reuse the same idempotency key, so they are safe.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(opts.MaxRetries),
		LeveledLogger:     log.StandardLogger(),
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}
	return &Client{
		api:           client.New(opts.SecretKey, stripe.NewBackendsWithConfig(cfg)),
		webhookSecret: opts.WebhookSecret,
		timeout:       opts.Timeout,
	}
}

// CreateTransfer moves funds to the connected account under the request's
// idempotency key.
func (c *Client) CreateTransfer(ctx context.Context, req processor.TransferRequest) (*processor.Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String("tip-" + req.TipID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("tip_id", req.TipID)

	tr, err := c.api.Transfers.New(params)
	if err != nil {
		return nil, classify("transfer", err)
	}
	return &processor.Transfer{ID: tr.ID}, nil
}

// CreateCheckoutSession opens a hosted payment page charging the tip total
// to the platform balance.
func (c *Client) CreateCheckoutSession(ctx context.Context, req processor.CheckoutRequest) (*processor.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.TipID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferGroup: stripe.String("tip-" + req.TipID),
			Metadata:      map[string]string{"tip_id": req.TipID},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("tip_id", req.TipID)

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("checkout", err)
	}
	return &processor.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header and normalises the event.
func (c *Client) ParseEvent(payload []byte, signature string) (*processor.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	}

	out := &processor.Event{ID: evt.ID, Type: string(evt.Type), Kind: processor.EventIgnored}
	if evt.Data == nil {
		return out, nil
	}

	switch string(evt.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.TipID = sessionTipID(&s)
		if s.PaymentIntent != nil {
			out.PaymentIntentID = s.PaymentIntent.ID
		}
		// completed fires before delayed methods settle; wait for async_payment_succeeded then.
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Kind = processor.EventPaymentSucceeded
		}

	case "checkout.session.async_payment_failed", "checkout.session.expired":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.TipID = sessionTipID(&s)
		out.Kind = processor.EventPaymentFailed

	case "account.updated":
		var a stripe.Account
		if err := json.Unmarshal(evt.Data.Raw, &a); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		out.AccountID = a.ID
		out.Activated = a.PayoutsEnabled && a.DetailsSubmitted
		out.Kind = processor.EventAccountUpdated
	}
	return out, nil
}

func sessionTipID(s *stripe.CheckoutSession) string {
	if id := s.Metadata["tip_id"]; id != "" {
		return id
	}
	return s.ClientReferenceID
}

// classify turns a stripe-go error into a processor.Error.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &processor.Error{Op: op, Message: err.Error()}
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		return &processor.Error{
			Op:        op,
			Code:      code,
			Status:    se.HTTPStatusCode,
			Message:   se.Msg,
			Permanent: processor.Classify(se.HTTPStatusCode, code),
		}
	}
	return &processor.Error{Op: op, Message: err.Error()}
}

var _ processor.Client = (*Client)(nil)
