// Package app assembles the service: storage, processor adapter,
// notification channels, feature services, the HTTP API and the jobs.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"onair.fm/tipjar/internal/api"
	"onair.fm/tipjar/internal/config"
	mongodb "onair.fm/tipjar/internal/db/mongo"
	"onair.fm/tipjar/internal/db/postgres"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/checkout"
	"onair.fm/tipjar/internal/features/expiration"
	"onair.fm/tipjar/internal/features/operators"
	"onair.fm/tipjar/internal/features/reconcile"
	"onair.fm/tipjar/internal/features/reminders"
	"onair.fm/tipjar/internal/features/tips"
	"onair.fm/tipjar/internal/features/transfers"
	"onair.fm/tipjar/internal/jobs"
	"onair.fm/tipjar/internal/notify"
	"onair.fm/tipjar/internal/processor/stripeclient"
)

// App holds every component of the running service.
type App struct {
	Config    *config.Config
	DB        *pgxpool.Pool // nil with the memory backend
	Mongo     *mongo.Client // nil unless LEDGER_BACKEND=mongo
	Ledger    tips.Ledger
	Directory *accounts.Directory
	Engine    *reconcile.Engine
	Expirer   *expiration.Sweeper
	Reminders *reminders.Scheduler
	Records   expiration.RecordStore
	Server    *api.Server
	Scheduler *jobs.Scheduler
}

// stores are the persistence ports for the selected backend.
type stores struct {
	ledger      tips.Ledger
	broadcaster accounts.Store
	realloc     expiration.RecordStore
	reminders   reminders.RecordStore
	attempts    operators.AttemptStore
}

// New builds the application. The order matters: storage first, then the
// services that depend on it, then the surfaces that call the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	// === 1. Storage ===
	st, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = st.ledger
	a.Records = st.realloc

	// === 2. Payment processor ===
	stripe := stripeclient.New(stripeclient.Options{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.ProcessorTimeout,
		MaxRetries:    cfg.ProcessorRetries,
	})

	// === 3. Notifications ===
	mailer, alerter := notifiers(cfg)

	// === 4. Services ===
	a.Directory = accounts.NewDirectory(st.broadcaster)
	executor := transfers.NewExecutor(st.ledger, stripe, alerter, cfg.ProcessorTimeout)
	a.Engine = reconcile.NewEngine(st.ledger, a.Directory, executor)
	a.Expirer = expiration.NewSweeper(st.ledger, st.realloc, cfg.ClaimWindow)
	a.Reminders = reminders.NewScheduler(st.ledger, a.Directory, st.reminders, mailer, reminders.Options{
		Markers:       cfg.ReminderDays,
		ClaimWindow:   cfg.ClaimWindow,
		OnboardingURL: cfg.OnboardingURL,
	})
	checkoutService := checkout.NewService(st.ledger, a.Directory, stripe, checkout.Options{
		Currency:   cfg.TipCurrency,
		MinAmount:  cfg.TipMinAmount,
		MaxAmount:  cfg.TipMaxAmount,
		Fees:       tips.FeePolicy{Rate: cfg.FeeRate, Minimum: cfg.FeeMinimum},
		SuccessURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/tips/{TIP_ID}/thanks",
		CancelURL:  strings.TrimRight(cfg.PublicBaseURL, "/") + "/tips/cancelled",
	})
	operatorService := operators.NewService(st.attempts, operators.Options{
		Username:     cfg.OpsUsername,
		PasswordHash: cfg.OpsPasswordHash,
		JWTSecret:    cfg.OpsJWTSecret,
		TokenTTL:     cfg.OpsTokenTTL,
	})

	// === 5. HTTP API ===
	a.Server = api.New(api.Deps{
		Checkout:   checkoutService,
		Events:     stripe,
		Ledger:     st.ledger,
		Reconciler: a.Engine,
		Accounts:   a.Directory,
		Operators:  operatorService,
	}, api.Options{
		Addr:           cfg.HTTPAddr,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimitRequests,
		RateWindow:     cfg.RateLimitWindow,
	})

	// === 6. Jobs ===
	a.Scheduler = jobs.NewScheduler(a.Engine, a.Expirer, a.Reminders, jobs.Schedules{
		Reconcile: cfg.CronReconcile,
		Expire:    cfg.CronExpire,
		Remind:    cfg.CronReminders,
	}, cfg.AppTimezone)

	log.WithFields(log.Fields{
		"ledger": cfg.LedgerBackend,
		"email":  cfg.EmailEnabled(),
		"alerts": cfg.AlertsEnabled(),
	}).Info("Application assembled")
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	cfg := a.Config
	if cfg.LedgerBackend == config.LedgerMemory {
		log.Warn("Memory backend selected, nothing survives a restart")
		return &stores{
			ledger:      tips.NewMemoryLedger(),
			broadcaster: accounts.NewMemoryStore(),
			realloc:     expiration.NewMemoryStore(),
			reminders:   reminders.NewMemoryStore(),
			attempts:    operators.NewMemoryAttempts(),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = pool
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	st := &stores{
		ledger:      tips.NewRepository(pool),
		broadcaster: accounts.NewRepository(pool),
		realloc:     expiration.NewRepository(pool),
		reminders:   reminders.NewRepository(pool),
		attempts:    operators.NewRepository(pool),
	}
	if cfg.LedgerBackend != config.LedgerMongo {
		return st, nil
	}

	client, err := mongodb.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Mongo = client
	db := client.Database(cfg.MongoDB)

	ledger := tips.NewMongoRepository(db)
	if err := ledger.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	records := expiration.NewMongoRepository(db)
	if err := records.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	st.ledger = ledger
	st.realloc = records
	return st, nil
}

// notifiers picks real channels when configured and log-only ones otherwise.
func notifiers(cfg *config.Config) (notify.Mailer, notify.Alerter) {
	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.EmailEnabled() {
		mailer = notify.NewEmailSender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailTimeout)
	}

	var alerter notify.Alerter = notify.LogAlerter{}
	if cfg.AlertsEnabled() {
		tg, err := notify.NewTelegramAlerter(cfg.TelegramBotToken, cfg.OpsChatID, cfg.TelegramTimeout)
		if err != nil {
			log.WithError(err).Warn("Telegram alerts disabled")
		} else {
			alerter = tg
		}
	}
	return mailer, alerter
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	if a.Server != nil {
		a.Server.Close()
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.MongoTimeout)
		defer cancel()
		if err := a.Mongo.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("Mongo disconnect failed")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
