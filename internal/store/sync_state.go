package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSyncStateNotFound = errors.New("calendar sync state not found")

// SyncState tracks where a calendar's incremental sync left off, and the
// webhook channel currently watching it, if any. full_sync_complete=true
// implies SyncToken is non-nil; see the invariant in the data model.
type SyncState struct {
	CalendarID          uuid.UUID
	SyncToken           *string
	PageToken           *string
	FullSyncComplete    bool
	PagesFetched        int
	ItemsUpserted       int
	SyncDurationMs      int64
	LastSyncAt          *time.Time
	LastFullSyncAt      *time.Time
	SyncFailureCount    int
	WebhookChannelID    *string
	WebhookChannelToken *string
	WebhookResourceID   *string
	WebhookExpiration   *time.Time
	UpdatedAt           time.Time
}

// SyncStateStore provides PostgreSQL-backed sync-state storage.
type SyncStateStore struct {
	pool *pgxpool.Pool
}

func NewSyncStateStore(pool *pgxpool.Pool) *SyncStateStore {
	return &SyncStateStore{pool: pool}
}

var syncStateColumns = `
	sync_token, page_token, full_sync_complete, pages_fetched, items_upserted, sync_duration_ms,
	last_sync_at, last_full_sync_at, sync_failure_count,
	webhook_channel_id, webhook_channel_token, webhook_resource_id, webhook_expiration, updated_at
`

func (s *SyncStateStore) Get(ctx context.Context, calendarID uuid.UUID) (*SyncState, error) {
	st := &SyncState{CalendarID: calendarID}
	err := s.pool.QueryRow(ctx, `
		SELECT `+syncStateColumns+`
		FROM calendar_sync_state WHERE calendar_id = $1
	`, calendarID).Scan(
		&st.SyncToken, &st.PageToken, &st.FullSyncComplete, &st.PagesFetched, &st.ItemsUpserted, &st.SyncDurationMs,
		&st.LastSyncAt, &st.LastFullSyncAt, &st.SyncFailureCount,
		&st.WebhookChannelID, &st.WebhookChannelToken, &st.WebhookResourceID, &st.WebhookExpiration, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &SyncState{CalendarID: calendarID}, nil
		}
		return nil, err
	}
	return st, nil
}

// GetByWebhookChannel resolves a calendar (and its owning user) from an
// inbound push notification's channel ID.
func (s *SyncStateStore) GetByWebhookChannel(ctx context.Context, channelID string) (calendarID, userID uuid.UUID, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT gc.id, gc.user_id
		FROM calendar_sync_state css
		JOIN google_calendars gc ON gc.id = css.calendar_id
		WHERE css.webhook_channel_id = $1
	`, channelID).Scan(&calendarID, &userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, uuid.Nil, ErrSyncStateNotFound
		}
		return uuid.Nil, uuid.Nil, err
	}
	return calendarID, userID, nil
}

// SetTokens persists the sync/page token pair after a page is processed.
// A nil pageToken with a non-nil syncToken means the sync completed;
// a non-nil pageToken means more pages remain to be fetched. The engine's
// page-turn write leaves syncToken nil; its terminal-failure write stores
// an empty (non-nil) syncToken alongside the resume pageToken.
func (s *SyncStateStore) SetTokens(ctx context.Context, calendarID uuid.UUID, syncToken, pageToken *string) error {
	return s.upsert(ctx, calendarID, func(now time.Time) (string, []any) {
		return `
			INSERT INTO calendar_sync_state (calendar_id, sync_token, page_token, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (calendar_id) DO UPDATE SET
				sync_token = EXCLUDED.sync_token, page_token = EXCLUDED.page_token, updated_at = EXCLUDED.updated_at
		`, []any{calendarID, syncToken, pageToken, now}
	})
}

// ClearTokens forces the next sync to start from a full resync.
func (s *SyncStateStore) ClearTokens(ctx context.Context, calendarID uuid.UUID) error {
	return s.upsert(ctx, calendarID, func(now time.Time) (string, []any) {
		return `
			INSERT INTO calendar_sync_state (calendar_id, sync_token, page_token, full_sync_complete, updated_at)
			VALUES ($1, NULL, NULL, false, $2)
			ON CONFLICT (calendar_id) DO UPDATE SET
				sync_token = NULL, page_token = NULL, full_sync_complete = false, updated_at = EXCLUDED.updated_at
		`, []any{calendarID, now}
	})
}

// MarkSyncCompleted records a successful sync pass: resets the failure
// counter, records this run's pages/items/duration (replacing the previous
// run's values, not adding to them), and (isFull)
// stamps last_full_sync_at and full_sync_complete.
func (s *SyncStateStore) MarkSyncCompleted(ctx context.Context, calendarID uuid.UUID, isFull bool, pagesFetched, itemsUpserted int, duration time.Duration) error {
	now := time.Now().UTC()
	durationMs := duration.Milliseconds()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_sync_state (
			calendar_id, last_sync_at, last_full_sync_at, full_sync_complete,
			pages_fetched, items_upserted, sync_duration_ms, sync_failure_count, updated_at
		)
		VALUES ($1, $2, CASE WHEN $3 THEN $2 ELSE NULL END, $3, $4, $5, $6, 0, $2)
		ON CONFLICT (calendar_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			last_full_sync_at = CASE WHEN $3 THEN EXCLUDED.last_sync_at ELSE calendar_sync_state.last_full_sync_at END,
			full_sync_complete = CASE WHEN $3 THEN true ELSE calendar_sync_state.full_sync_complete END,
			pages_fetched = EXCLUDED.pages_fetched,
			items_upserted = EXCLUDED.items_upserted,
			sync_duration_ms = EXCLUDED.sync_duration_ms,
			sync_failure_count = 0,
			updated_at = EXCLUDED.updated_at
	`, calendarID, now, isFull, pagesFetched, itemsUpserted, durationMs)
	return err
}

func (s *SyncStateStore) IncrementFailureCount(ctx context.Context, calendarID uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_sync_state (calendar_id, sync_failure_count, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (calendar_id) DO UPDATE SET
			sync_failure_count = calendar_sync_state.sync_failure_count + 1, updated_at = EXCLUDED.updated_at
	`, calendarID, now)
	return err
}

// SaveWebhookRegistration records a successful watch-channel creation. token
// is the shared secret Google echoes back as X-Goog-Channel-Token on every
// push for this channel; the dispatcher rejects pushes that don't match it.
func (s *SyncStateStore) SaveWebhookRegistration(ctx context.Context, calendarID uuid.UUID, channelID, token, resourceID string, expiration time.Time) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_sync_state (calendar_id, webhook_channel_id, webhook_channel_token, webhook_resource_id, webhook_expiration, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (calendar_id) DO UPDATE SET
			webhook_channel_id = EXCLUDED.webhook_channel_id,
			webhook_channel_token = EXCLUDED.webhook_channel_token,
			webhook_resource_id = EXCLUDED.webhook_resource_id,
			webhook_expiration = EXCLUDED.webhook_expiration,
			updated_at = EXCLUDED.updated_at
	`, calendarID, channelID, token, resourceID, expiration, now)
	return err
}

// LatestSyncAt returns the most recent last_sync_at across calendarIDs, or
// nil if none have synced yet.
func (s *SyncStateStore) LatestSyncAt(ctx context.Context, calendarIDs []uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(last_sync_at) FROM calendar_sync_state WHERE calendar_id = ANY($1)
	`, calendarIDs).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func (s *SyncStateStore) upsert(ctx context.Context, calendarID uuid.UUID, build func(now time.Time) (string, []any)) error {
	sql, args := build(time.Now().UTC())
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}
