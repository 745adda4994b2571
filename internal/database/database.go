package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate runs database migrations.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := db.runMigration(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) runMigration(ctx context.Context, m migration) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
		m.version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check migration %d: %w", m.version, err)
	}

	if exists {
		return nil
	}

	if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("failed to run migration %d: %w", m.version, err)
	}

	_, err = db.Pool.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}

	return nil
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			-- =============================================================================
			-- USERS
			-- =============================================================================

			CREATE TABLE users (
				id UUID PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_users_email ON users(email);

			-- =============================================================================
			-- GOOGLE ACCOUNTS
			-- =============================================================================

			CREATE TABLE google_accounts (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				google_email TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				scopes TEXT[] NOT NULL DEFAULT '{}',
				needs_reauth BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(user_id, google_email)
			);

			CREATE INDEX idx_google_accounts_user_id ON google_accounts(user_id);

			-- =============================================================================
			-- GOOGLE ACCOUNT TOKENS
			-- =============================================================================

			CREATE TABLE google_account_tokens (
				account_id UUID PRIMARY KEY REFERENCES google_accounts(id) ON DELETE CASCADE,
				access_token_encrypted TEXT NOT NULL,
				refresh_token_encrypted TEXT NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			-- =============================================================================
			-- GOOGLE CALENDARS
			-- =============================================================================

			CREATE TABLE google_calendars (
				id UUID PRIMARY KEY,
				account_id UUID NOT NULL REFERENCES google_accounts(id) ON DELETE CASCADE,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				external_id TEXT NOT NULL,
				summary TEXT NOT NULL,
				color TEXT NOT NULL DEFAULT '',
				access_role TEXT NOT NULL DEFAULT 'reader',
				is_primary BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(account_id, external_id)
			);

			CREATE INDEX idx_google_calendars_account_id ON google_calendars(account_id);
			CREATE INDEX idx_google_calendars_user_id ON google_calendars(user_id);

			-- =============================================================================
			-- CALENDAR SYNC STATE
			-- =============================================================================

			CREATE TABLE calendar_sync_state (
				calendar_id UUID PRIMARY KEY REFERENCES google_calendars(id) ON DELETE CASCADE,
				sync_token TEXT,
				page_token TEXT,
				full_sync_complete BOOLEAN NOT NULL DEFAULT false,
				pages_fetched INT NOT NULL DEFAULT 0,
				items_upserted INT NOT NULL DEFAULT 0,
				sync_duration_ms BIGINT NOT NULL DEFAULT 0,
				last_sync_at TIMESTAMPTZ,
				last_full_sync_at TIMESTAMPTZ,
				sync_failure_count INT NOT NULL DEFAULT 0,
				webhook_channel_id TEXT,
				webhook_channel_token TEXT,
				webhook_resource_id TEXT,
				webhook_expiration TIMESTAMPTZ,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_sync_state_webhook_channel ON calendar_sync_state(webhook_channel_id)
				WHERE webhook_channel_id IS NOT NULL;

			-- =============================================================================
			-- EVENTS
			-- =============================================================================

			CREATE TABLE events (
				id UUID PRIMARY KEY,
				calendar_id UUID NOT NULL REFERENCES google_calendars(id) ON DELETE CASCADE,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				external_id TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT 'google',
				ical_uid TEXT,
				recurrence TEXT[],
				recurring_event_id TEXT,
				is_recurring_master BOOLEAN NOT NULL DEFAULT false,
				original_start_time TEXT,
				status TEXT NOT NULL DEFAULT 'confirmed',
				visibility TEXT NOT NULL DEFAULT 'default',
				transparency TEXT NOT NULL DEFAULT 'opaque',
				start_time TIMESTAMPTZ,
				end_time TIMESTAMPTZ,
				is_all_day BOOLEAN NOT NULL DEFAULT false,
				all_day_date TEXT,
				summary_encrypted TEXT,
				description_encrypted TEXT,
				location_encrypted TEXT,
				attendees_json TEXT,
				organizer_json TEXT,
				color_id TEXT,
				reminders_json TEXT,
				conference_data_json TEXT,
				html_link TEXT,
				etag TEXT,
				embedding_pending BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(calendar_id, external_id, source)
			);

			CREATE INDEX idx_events_calendar_id ON events(calendar_id);
			CREATE INDEX idx_events_user_id ON events(user_id);
			CREATE INDEX idx_events_start_time ON events(start_time);
			CREATE INDEX idx_events_recurring_event_id ON events(recurring_event_id)
				WHERE recurring_event_id IS NOT NULL;
			CREATE INDEX idx_events_embedding_pending ON events(embedding_pending)
				WHERE embedding_pending = true;
		`,
	},
}
