// Package api is the HTTP surface of the service: tip checkout for
// listeners, processor webhooks and the operator endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/api/middleware"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/checkout"
	"onair.fm/tipjar/internal/features/operators"
	"onair.fm/tipjar/internal/features/reconcile"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/processor"
)

// maxWebhookBody bounds the webhook payload read into memory.
const maxWebhookBody = 64 << 10

// Checkout starts a tip.
type Checkout interface {
	Start(ctx context.Context, req checkout.Request) (*checkout.Session, error)
}

// Events verifies and decodes processor callbacks.
type Events interface {
	ParseEvent(payload []byte, signature string) (*processor.Event, error)
}

// Reconciler is the part of the engine the handlers trigger.
type Reconciler interface {
	OnPaymentConfirmed(ctx context.Context, tipID string) (reconcile.Outcome, error)
	OnAccountActivated(ctx context.Context, broadcasterID string) (*reconcile.Report, error)
	Resync(ctx context.Context, broadcasterID string) (*reconcile.Report, error)
}

// Accounts records payout account activation.
type Accounts interface {
	Activate(ctx context.Context, externalID string, activated bool) (*accounts.Broadcaster, bool, error)
}

// Operators authenticates the ops endpoints.
type Operators interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error)
	ParseToken(token string) (*operators.Claims, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Checkout   Checkout
	Events     Events
	Ledger     tips.Ledger
	Reconciler Reconciler
	Accounts   Accounts
	Operators  Operators
}

// Options configures the listener and middleware.
type Options struct {
	Addr           string
	CORSOrigins    []string
	RequestTimeout time.Duration
	RateLimit      int
	RateWindow     time.Duration
}

type Server struct {
	deps    Deps
	opts    Options
	limiter *middleware.RateLimiter
	router  *gin.Engine
}

func New(deps Deps, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	s := &Server{
		deps:    deps,
		opts:    opts,
		limiter: middleware.NewRateLimiter(opts.RateLimit, opts.RateWindow),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestLogger())

	corsCfg := cors.DefaultConfig()
	if len(s.opts.CORSOrigins) == 1 && s.opts.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.opts.CORSOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/tips", s.limiter.Middleware(), s.handleCreateTip)
	r.POST("/webhooks/stripe", s.handleStripeWebhook)

	r.POST("/ops/login", s.handleLogin)
	ops := r.Group("/ops", s.requireOperator())
	{
		ops.POST("/broadcasters/:id/resync", s.handleResync)
		ops.GET("/tips/:id", s.handleGetTip)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.RequestTimeout + 5*time.Second,
	}
	defer s.limiter.Close()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.opts.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}

// requestContext bounds a handler's downstream calls.
func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
}

// Close releases the rate limiter when Run was never called.
func (s *Server) Close() {
	s.limiter.Close()
}
