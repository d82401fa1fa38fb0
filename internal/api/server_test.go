package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81/webhook"

	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/checkout"
	"onair.fm/tipjar/internal/features/operators"
	"onair.fm/tipjar/internal/features/reconcile"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/features/transfers"
	"onair.fm/tipjar/internal/processor"
	"onair.fm/tipjar/internal/processor/stripeclient"
)

const webhookSecret = "whsec_api_test"

type fakePayments struct {
	mu        sync.Mutex
	transfers map[string]string
	err       error
}

func (f *fakePayments) CreateCheckoutSession(ctx context.Context, req processor.CheckoutRequest) (*processor.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &processor.CheckoutSession{ID: "cs_" + req.TipID, URL: "https://pay.example/" + req.TipID}, nil
}

func (f *fakePayments) CreateTransfer(ctx context.Context, req processor.TransferRequest) (*processor.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.transfers[req.IdempotencyKey]; ok {
		return &processor.Transfer{ID: id}, nil
	}
	id := fmt.Sprintf("tr_%d", len(f.transfers)+1)
	f.transfers[req.IdempotencyKey] = id
	return &processor.Transfer{ID: id}, nil
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

type testEnv struct {
	server   *Server
	ledger   *tips.MemoryLedger
	payments *fakePayments
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	dir := accounts.NewDirectory(accounts.NewMemoryStore())
	for _, b := range []accounts.Broadcaster{
		{ID: "dj-live", Email: "live@example.com", Account: &accounts.PayoutAccount{ExternalID: "acct_live"}},
		{ID: "dj-new", Email: "new@example.com", Account: &accounts.PayoutAccount{ExternalID: "acct_new"}},
	} {
		if _, err := dir.Register(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := dir.Activate(ctx, "acct_live", true); err != nil {
		t.Fatal(err)
	}

	hash, err := operators.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	ledger := tips.NewMemoryLedger()
	pay := &fakePayments{transfers: make(map[string]string)}
	exec := transfers.NewExecutor(ledger, pay, nil, time.Second)
	engine := reconcile.NewEngine(ledger, dir, exec)

	srv := New(Deps{
		Checkout: checkout.NewService(ledger, dir, pay, checkout.Options{
			Currency: "usd", MinAmount: 100, MaxAmount: 50000,
			Fees:       tips.DefaultFeePolicy,
			SuccessURL: "https://onair.fm/thanks/{TIP_ID}",
			CancelURL:  "https://onair.fm/tip",
		}),
		Events:     stripeclient.New(stripeclient.Options{SecretKey: "sk_test", WebhookSecret: webhookSecret}),
		Ledger:     ledger,
		Reconciler: engine,
		Accounts:   dir,
		Operators: operators.NewService(operators.NewMemoryAttempts(), operators.Options{
			Username: "ops", PasswordHash: hash, JWTSecret: "jwt-secret", TokenTTL: time.Hour,
		}),
	}, Options{CORSOrigins: []string{"http://localhost:3000"}, RateLimit: 100, RateWindow: time.Minute})
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, ledger: ledger, payments: pay}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) createTip(t *testing.T, req checkout.Request) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/tips", req, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create tip: %d %s", w.Code, w.Body.String())
	}
	var s checkout.Session
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	return s.TipID
}

func (e *testEnv) webhook(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return e.do(t, http.MethodPost, "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": signed.Header})
}

func paidEvent(eventID, tipID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":
		{"id":"cs_%s","object":"checkout.session","payment_status":"paid","client_reference_id":%q,
		 "metadata":{"tip_id":%q},"payment_intent":"pi_%s"}}}`, eventID, tipID, tipID, tipID, tipID)
}

func (e *testEnv) tip(t *testing.T, id string) *tips.Tip {
	t.Helper()
	tip, err := e.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return tip
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/healthz", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestCreateTip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/tips", checkout.Request{BroadcasterID: "dj-live", ShowID: "show-1", Amount: 1000}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var s checkout.Session
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.Fee != 150 || s.Total != 1150 || s.CheckoutURL == "" {
		t.Fatalf("session = %+v", s)
	}
}

func TestCreateTipRejects(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest},
		{"amount below minimum", checkout.Request{BroadcasterID: "dj-live", ShowID: "s", Amount: 50}, http.StatusBadRequest},
		{"no show", checkout.Request{BroadcasterID: "dj-live", Amount: 500}, http.StatusBadRequest},
		{"no broadcaster", checkout.Request{ShowID: "s", Amount: 500}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/tips", tt.body, nil); w.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCreateTipProcessorDown(t *testing.T) {
	env := newTestEnv(t)
	env.payments.err = &processor.Error{Op: "checkout", Status: 503, Message: "unavailable"}

	w := env.do(t, http.MethodPost, "/api/tips", checkout.Request{BroadcasterID: "dj-live", ShowID: "s", Amount: 500}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTip(t, checkout.Request{BroadcasterID: "dj-live", ShowID: "s", Amount: 1000})

	w := env.do(t, http.MethodPost, "/webhooks/stripe", paidEvent("evt_forged", id),
		map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	tip := env.tip(t, id)
	if tip.PaymentStatus != tips.PaymentPending || tip.PayoutStatus != tips.PayoutPending {
		t.Fatalf("forged webhook changed the tip: %s/%s", tip.PaymentStatus, tip.PayoutStatus)
	}
	if env.payments.count() != 0 {
		t.Fatal("forged webhook caused a transfer")
	}
}

func TestWebhookPaymentTransfersOnce(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTip(t, checkout.Request{BroadcasterID: "dj-live", ShowID: "s", Amount: 1000})

	for i := 0; i < 3; i++ {
		if w := env.webhook(t, paidEvent(fmt.Sprintf("evt_%d", i), id)); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: %d %s", i, w.Code, w.Body.String())
		}
	}

	tip := env.tip(t, id)
	if tip.PaymentStatus != tips.PaymentSucceeded || tip.PayoutStatus != tips.PayoutTransferred {
		t.Fatalf("tip = %s/%s", tip.PaymentStatus, tip.PayoutStatus)
	}
	if tip.TransferID != "tr_1" || env.payments.count() != 1 {
		t.Fatalf("transfer id %q, %d transfers", tip.TransferID, env.payments.count())
	}
}

func TestWebhookUnknownTipAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	if w := env.webhook(t, paidEvent("evt_x", "missing")); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestWebhookAccountActivationPaysWaitingTips(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTip(t, checkout.Request{BroadcasterID: "dj-new", ShowID: "s", Amount: 2000})
	env.webhook(t, paidEvent("evt_pay", id))

	if got := env.tip(t, id).PayoutStatus; got != tips.PayoutPendingDJAccount {
		t.Fatalf("before activation: %s", got)
	}

	w := env.webhook(t, `{"id":"evt_acct","object":"event","type":"account.updated","data":{"object":
		{"id":"acct_new","object":"account","payouts_enabled":true,"details_submitted":true}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := env.tip(t, id).PayoutStatus; got != tips.PayoutTransferred {
		t.Fatalf("after activation: %s", got)
	}
}

func TestOpsRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/ops/tips/x", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/ops/tips/x", nil, map[string]string{"Authorization": "Bearer junk"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
}

func TestOpsLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/ops/login", loginRequest{Username: "ops", Password: "wrong"}, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodPost, "/ops/login", loginRequest{Username: "ops", Password: "s3cret"}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("after lockout: %d", w.Code)
	}
}

func TestOpsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTip(t, checkout.Request{BroadcasterID: "dj-live", ShowID: "s", Amount: 1000})

	w := env.do(t, http.MethodPost, "/ops/login", loginRequest{Username: "ops", Password: "s3cret"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}
	auth := map[string]string{"Authorization": "Bearer " + login.Token}

	w = env.do(t, http.MethodGet, "/ops/tips/"+id, nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("get tip: %d", w.Code)
	}
	var view tipView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.ID != id || view.BroadcasterID != "dj-live" || view.PayoutStatus != "pending" {
		t.Fatalf("view = %+v", view)
	}

	if w := env.do(t, http.MethodGet, "/ops/tips/missing", nil, auth); w.Code != http.StatusNotFound {
		t.Fatalf("missing tip: %d", w.Code)
	}

	env.webhook(t, paidEvent("evt_1", id))
	w = env.do(t, http.MethodPost, "/ops/broadcasters/dj-live/resync", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("resync: %d %s", w.Code, w.Body.String())
	}
	var report reconcile.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Trigger != "resync" || report.Transferred != 0 {
		t.Fatalf("report = %+v", report)
	}

	if w := env.do(t, http.MethodPost, "/ops/broadcasters/nobody/resync", nil, auth); w.Code != http.StatusNotFound {
		t.Fatalf("unknown broadcaster: %d", w.Code)
	}
}
