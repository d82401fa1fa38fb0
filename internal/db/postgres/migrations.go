// Package postgres: migrations.go embeds the schema so the daemon and the
// CLI can migrate without shipping .sql files.
package postgres

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "broadcasters", migration001Broadcasters},
	{2, "tips", migration002Tips},
	{3, "reallocations", migration003Reallocations},
	{4, "payout_reminders", migration004Reminders},
	{5, "operator_login_attempts", migration005Operators},
	{6, "tip_failure_count", migration006FailureCount},
}

var migration001Broadcasters = `
CREATE TABLE IF NOT EXISTS broadcasters (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    payout_account_id TEXT,
    payout_activated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_broadcasters_email ON broadcasters(LOWER(email));
CREATE UNIQUE INDEX IF NOT EXISTS idx_broadcasters_payout_account ON broadcasters(payout_account_id)
    WHERE payout_account_id IS NOT NULL;
`

var migration002Tips = `
CREATE TABLE IF NOT EXISTS tips (
    id TEXT PRIMARY KEY,
    tipper_id TEXT NOT NULL,
    tipper_name TEXT NOT NULL DEFAULT '',
    broadcaster_id TEXT NOT NULL,
    pending_email TEXT NOT NULL DEFAULT '',
    show_id TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    tip_amount BIGINT NOT NULL CHECK (tip_amount > 0),
    platform_fee BIGINT NOT NULL CHECK (platform_fee >= 0),
    total_amount BIGINT NOT NULL,
    currency VARCHAR(3) NOT NULL,
    payment_status VARCHAR(16) NOT NULL DEFAULT 'pending',
    payout_status VARCHAR(32) NOT NULL DEFAULT 'pending',
    checkout_session_id TEXT NOT NULL DEFAULT '',
    payment_intent_id TEXT NOT NULL DEFAULT '',
    transfer_id TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    transferred_at TIMESTAMPTZ,
    reallocated_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT tips_total_matches CHECK (total_amount = tip_amount + platform_fee)
);
CREATE INDEX IF NOT EXISTS idx_tips_payout_created ON tips(payout_status, created_at);
CREATE INDEX IF NOT EXISTS idx_tips_broadcaster_payout ON tips(broadcaster_id, payout_status);
CREATE INDEX IF NOT EXISTS idx_tips_pending_email ON tips(pending_email) WHERE broadcaster_id = 'pending';
`

var migration003Reallocations = `
CREATE TABLE IF NOT EXISTS reallocations (
    id BIGSERIAL PRIMARY KEY,
    tip_id TEXT UNIQUE NOT NULL,
    broadcaster_ref TEXT NOT NULL,
    amount BIGINT NOT NULL,
    currency VARCHAR(3) NOT NULL,
    tipped_at TIMESTAMPTZ NOT NULL,
    reallocated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reallocations_reallocated_at ON reallocations(reallocated_at DESC);
`

var migration004Reminders = `
CREATE TABLE IF NOT EXISTS payout_reminders (
    id BIGSERIAL PRIMARY KEY,
    broadcaster_key TEXT NOT NULL,
    day_marker INTEGER NOT NULL,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (broadcaster_key, day_marker)
);
`

var migration005Operators = `
CREATE TABLE IF NOT EXISTS operator_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    success BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_operator_login_attempts ON operator_login_attempts(username, attempt_time DESC);
`

var migration006FailureCount = `
ALTER TABLE tips ADD COLUMN IF NOT EXISTS failure_count INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_tips_reallocated_at ON tips(reallocated_at)
    WHERE payout_status = 'reallocated_to_pool';
`
