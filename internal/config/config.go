// Package config loads the service configuration from environment variables.
// A .env file in the working directory is read first when present;
// envconfig then maps variables onto the Config struct.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Ledger backends accepted by LEDGER_BACKEND.
const (
	LedgerPostgres = "postgres"
	LedgerMongo    = "mongo"
	LedgerMemory   = "memory"
)

// Config holds ALL application settings.
type Config struct {
	// --- HTTP ---
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":8080"`
	PublicBaseURL  string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:3000"`
	CORSOriginsRaw string        `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
	CORSOrigins    []string      `ignored:"true"`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`

	// --- Database ---
	// Inside docker-compose the database host is the service name, override with DB_HOST=localhost locally.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"tipjar"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"tipjar"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Ledger ---
	LedgerBackend string        `envconfig:"LEDGER_BACKEND" default:"postgres"`
	MongoURI      string        `envconfig:"MONGO_URI" default:"mongodb://mongo:27017"`
	MongoDB       string        `envconfig:"MONGO_DB" default:"tipjar"`
	MongoTimeout  time.Duration `envconfig:"MONGO_TIMEOUT" default:"10s"`

	// --- Payment processor ---
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	ProcessorTimeout    time.Duration `envconfig:"PROCESSOR_TIMEOUT" default:"10s"`
	ProcessorRetries    int64         `envconfig:"PROCESSOR_NETWORK_RETRIES" default:"2"`

	// --- Tips ---
	TipCurrency  string          `envconfig:"TIP_CURRENCY" default:"usd"`
	TipMinAmount int64           `envconfig:"TIP_MIN_AMOUNT" default:"100"`
	TipMaxAmount int64           `envconfig:"TIP_MAX_AMOUNT" default:"50000"`
	FeeRate      decimal.Decimal `envconfig:"PLATFORM_FEE_RATE" default:"0.15"`
	FeeMinimum   int64           `envconfig:"PLATFORM_FEE_MINIMUM" default:"50"`

	// --- Claim window & reminders ---
	ClaimWindow     time.Duration `envconfig:"CLAIM_WINDOW" default:"1440h"`
	ReminderDaysRaw string        `envconfig:"REMINDER_DAYS" default:"1,7,30,45,50,59"`
	ReminderDays    []int         `ignored:"true"`
	OnboardingURL   string        `envconfig:"ONBOARDING_URL" default:"http://localhost:3000/dj/payouts"`

	// --- Jobs (cron expressions) ---
	CronReconcile string `envconfig:"CRON_RECONCILE" default:"*/15 * * * *"`
	CronExpire    string `envconfig:"CRON_EXPIRE" default:"0 3 * * *"`
	CronReminders string `envconfig:"CRON_REMINDERS" default:"0 * * * *"`

	// --- E-mail ---
	EmailAPIURL  string        `envconfig:"EMAIL_API_URL"`
	EmailAPIKey  string        `envconfig:"EMAIL_API_KEY"`
	EmailFrom    string        `envconfig:"EMAIL_FROM" default:"payouts@onair.fm"`
	EmailTimeout time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`

	// --- Telegram operator alerts (optional) ---
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	OpsChatID        int64         `envconfig:"OPS_CHAT_ID"`
	TelegramTimeout  time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"5s"`

	// --- Operators ---
	OpsUsername     string        `envconfig:"OPS_USERNAME" default:"ops"`
	OpsPasswordHash string        `envconfig:"OPS_PASSWORD_HASH" required:"true"`
	OpsJWTSecret    string        `envconfig:"OPS_JWT_SECRET" required:"true"`
	OpsTokenTTL     time.Duration `envconfig:"OPS_TOKEN_TTL" default:"12h"`

	// --- Rate Limiting (checkout endpoint) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"UTC"`
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// EmailEnabled reports whether an e-mail API is configured.
func (c *Config) EmailEnabled() bool {
	return c.EmailAPIURL != "" && c.EmailAPIKey != ""
}

// AlertsEnabled reports whether Telegram operator alerts are configured.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramBotToken != "" && c.OpsChatID != 0
}

func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerPostgres, LedgerMongo, LedgerMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND must be one of postgres, mongo, memory (got %q)", c.LedgerBackend)
	}
	if c.LedgerBackend != LedgerMemory && c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required unless LEDGER_BACKEND=memory")
	}
	if c.TipMinAmount <= 0 || c.TipMaxAmount < c.TipMinAmount {
		return fmt.Errorf("invalid TIP_MIN_AMOUNT/TIP_MAX_AMOUNT")
	}
	if c.FeeRate.Sign() <= 0 || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in (0, 1)")
	}
	if c.FeeMinimum < 0 {
		return fmt.Errorf("PLATFORM_FEE_MINIMUM must be >= 0")
	}
	if c.ClaimWindow <= 0 {
		return fmt.Errorf("CLAIM_WINDOW must be > 0")
	}
	if c.ProcessorTimeout <= 0 || c.EmailTimeout <= 0 {
		return fmt.Errorf("PROCESSOR_TIMEOUT and EMAIL_TIMEOUT must be > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if len(c.TipCurrency) != 3 {
		return fmt.Errorf("TIP_CURRENCY must be an ISO 4217 code")
	}
	return nil
}

// Load reads the environment (and .env, if any) into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	days, err := parseIntCSV(cfg.ReminderDaysRaw)
	if err != nil {
		return nil, fmt.Errorf("REMINDER_DAYS parse: %w", err)
	}
	cfg.ReminderDays = days
	cfg.CORSOrigins = parseStringCSV(cfg.CORSOriginsRaw)
	cfg.TipCurrency = strings.ToLower(cfg.TipCurrency)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseIntCSV(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad int %q: %w", p, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("day marker %d must be > 0", v)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseStringCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
