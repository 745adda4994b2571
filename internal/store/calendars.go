package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCalendarNotFound = errors.New("calendar not found")

// Calendar is one Google calendar belonging to a connected account.
type Calendar struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	UserID     uuid.UUID
	ExternalID string
	Summary    string
	Color      string
	AccessRole string
	IsPrimary  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CalendarStore provides PostgreSQL-backed calendar storage.
type CalendarStore struct {
	pool *pgxpool.Pool
}

func NewCalendarStore(pool *pgxpool.Pool) *CalendarStore {
	return &CalendarStore{pool: pool}
}

const calendarColumns = `
	id, account_id, user_id, external_id, summary, color, access_role,
	is_primary, created_at, updated_at
`

func scanCalendarRow(row pgx.Row, cal *Calendar) error {
	return row.Scan(
		&cal.ID, &cal.AccountID, &cal.UserID, &cal.ExternalID, &cal.Summary, &cal.Color, &cal.AccessRole,
		&cal.IsPrimary, &cal.CreatedAt, &cal.UpdatedAt,
	)
}

func scanCalendars(rows pgx.Rows) ([]*Calendar, error) {
	var out []*Calendar
	for rows.Next() {
		cal := &Calendar{}
		if err := scanCalendarRow(rows, cal); err != nil {
			return nil, err
		}
		out = append(out, cal)
	}
	return out, rows.Err()
}

// Upsert creates or refreshes a calendar row from a calendarList entry.
func (s *CalendarStore) Upsert(ctx context.Context, cal *Calendar) (*Calendar, error) {
	now := time.Now().UTC()
	newID := uuid.New()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO google_calendars (
			id, account_id, user_id, external_id, summary, color, access_role,
			is_primary, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			color = EXCLUDED.color,
			access_role = EXCLUDED.access_role,
			is_primary = EXCLUDED.is_primary,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`,
		newID, cal.AccountID, cal.UserID, cal.ExternalID, cal.Summary, cal.Color, cal.AccessRole,
		cal.IsPrimary, now,
	).Scan(&cal.ID, &cal.CreatedAt, &cal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return cal, nil
}

func (s *CalendarStore) GetByID(ctx context.Context, calendarID uuid.UUID) (*Calendar, error) {
	cal := &Calendar{}
	row := s.pool.QueryRow(ctx, `SELECT `+calendarColumns+` FROM google_calendars WHERE id = $1`, calendarID)
	if err := scanCalendarRow(row, cal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, err
	}
	return cal, nil
}

// ListByIDs returns the intersection of userID's calendars and calendarIDs,
// preserving access control at the query boundary.
func (s *CalendarStore) ListByIDs(ctx context.Context, userID uuid.UUID, calendarIDs []uuid.UUID) ([]*Calendar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+calendarColumns+`
		FROM google_calendars
		WHERE user_id = $1 AND id = ANY($2)
		ORDER BY is_primary DESC, summary ASC
	`, userID, calendarIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalendars(rows)
}

// ListForUser returns every calendar across all of a user's connected
// accounts. Used when a sync request names no specific calendar IDs.
func (s *CalendarStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Calendar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+calendarColumns+`
		FROM google_calendars
		WHERE user_id = $1
		ORDER BY is_primary DESC, summary ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalendars(rows)
}

func (s *CalendarStore) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*Calendar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+calendarColumns+`
		FROM google_calendars WHERE account_id = $1
		ORDER BY is_primary DESC, summary ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalendars(rows)
}
