package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEventNotFound = errors.New("event not found")

// upsertBatchSize caps how many events are written per round trip, keeping
// individual statements and their parameter lists bounded.
const upsertBatchSize = 500

// source is always "google" today; the column exists so the natural key
// matches the data model's (calendar, event, source) triple even though
// this core only ever writes one source.
const eventSource = "google"

// Event is a single Google Calendar event. summary/description/location are
// stored encrypted at rest; attendees/organizer/reminders/conference data
// are plaintext JSON since they carry no content the user would consider
// private beyond what the calendar metadata itself already exposes.
type Event struct {
	ID                uuid.UUID
	CalendarID        uuid.UUID
	UserID            uuid.UUID
	ExternalID        string
	ICalUID           string
	Recurrence        []string
	RecurringEventID  *string
	IsRecurringMaster bool
	OriginalStartTime *string
	Status            string
	Visibility        string
	Transparency      string
	StartTime         *time.Time
	EndTime           *time.Time
	IsAllDay          bool
	AllDayDate        *string
	SummaryEnc        *string
	DescriptionEnc    *string
	LocationEnc       *string
	AttendeesJSON     *string
	OrganizerJSON     *string
	ColorID           string
	RemindersJSON     *string
	ConferenceDataJSON *string
	HTMLLink          string
	ETag              string
	EmbeddingPending  bool
}

// EventStore provides PostgreSQL-backed event storage.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// UpsertBatch writes a page of events for one calendar in chunks of
// upsertBatchSize, wrapping each chunk in its own transaction so a failure
// partway through a very large page doesn't roll back earlier chunks that
// already committed.
func (s *EventStore) UpsertBatch(ctx context.Context, events []*Event) error {
	for start := 0; start < len(events); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.upsertChunk(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventStore) upsertChunk(ctx context.Context, events []*Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, e := range events {
		batch.Queue(`
			INSERT INTO events (
				id, calendar_id, user_id, external_id, source, ical_uid, recurrence,
				recurring_event_id, is_recurring_master, original_start_time,
				status, visibility, transparency, start_time, end_time, is_all_day, all_day_date,
				summary_encrypted, description_encrypted, location_encrypted,
				attendees_json, organizer_json, color_id, reminders_json, conference_data_json,
				html_link, etag, embedding_pending, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $29
			)
			ON CONFLICT (calendar_id, external_id, source) DO UPDATE SET
				ical_uid = EXCLUDED.ical_uid,
				recurrence = EXCLUDED.recurrence,
				recurring_event_id = EXCLUDED.recurring_event_id,
				is_recurring_master = EXCLUDED.is_recurring_master,
				original_start_time = EXCLUDED.original_start_time,
				status = EXCLUDED.status,
				visibility = EXCLUDED.visibility,
				transparency = EXCLUDED.transparency,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				is_all_day = EXCLUDED.is_all_day,
				all_day_date = EXCLUDED.all_day_date,
				summary_encrypted = EXCLUDED.summary_encrypted,
				description_encrypted = EXCLUDED.description_encrypted,
				location_encrypted = EXCLUDED.location_encrypted,
				attendees_json = EXCLUDED.attendees_json,
				organizer_json = EXCLUDED.organizer_json,
				color_id = EXCLUDED.color_id,
				reminders_json = EXCLUDED.reminders_json,
				conference_data_json = EXCLUDED.conference_data_json,
				html_link = EXCLUDED.html_link,
				etag = EXCLUDED.etag,
				embedding_pending = EXCLUDED.embedding_pending,
				updated_at = EXCLUDED.updated_at
		`,
			uuid.New(), e.CalendarID, e.UserID, e.ExternalID, eventSource, e.ICalUID, e.Recurrence,
			e.RecurringEventID, e.IsRecurringMaster, e.OriginalStartTime,
			e.Status, e.Visibility, e.Transparency, e.StartTime, e.EndTime, e.IsAllDay, e.AllDayDate,
			e.SummaryEnc, e.DescriptionEnc, e.LocationEnc,
			e.AttendeesJSON, e.OrganizerJSON, e.ColorID, e.RemindersJSON, e.ConferenceDataJSON,
			e.HTMLLink, e.ETag, e.EmbeddingPending, now,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

var eventColumns = `
	id, calendar_id, user_id, external_id, ical_uid, recurrence,
	recurring_event_id, is_recurring_master, original_start_time,
	status, visibility, transparency, start_time, end_time, is_all_day, all_day_date,
	summary_encrypted, description_encrypted, location_encrypted,
	attendees_json, organizer_json, color_id, reminders_json, conference_data_json,
	html_link, etag, embedding_pending
`

func scanEventRow(row pgx.Row, e *Event) error {
	return row.Scan(
		&e.ID, &e.CalendarID, &e.UserID, &e.ExternalID, &e.ICalUID, &e.Recurrence,
		&e.RecurringEventID, &e.IsRecurringMaster, &e.OriginalStartTime,
		&e.Status, &e.Visibility, &e.Transparency, &e.StartTime, &e.EndTime, &e.IsAllDay, &e.AllDayDate,
		&e.SummaryEnc, &e.DescriptionEnc, &e.LocationEnc,
		&e.AttendeesJSON, &e.OrganizerJSON, &e.ColorID, &e.RemindersJSON, &e.ConferenceDataJSON,
		&e.HTMLLink, &e.ETag, &e.EmbeddingPending,
	)
}

// QuerySingle returns non-recurring events (no recurring_event_id, not a
// master) for a calendar within [start, end). It is one of three disjoint
// queries for assembling a time-ordered view:
// singles, masters, and exceptions are stored and queried independently
// because a master's own start/end time does not describe its instances.
func (s *EventStore) QuerySingle(ctx context.Context, calendarID uuid.UUID, start, end time.Time) ([]*Event, error) {
	return s.queryByTimeRange(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE calendar_id = $1 AND recurring_event_id IS NULL AND is_recurring_master = false
		  AND status != 'cancelled'
		  AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
	`, calendarID, start, end)
}

// QueryMasters returns recurring-event master rows for a calendar. Masters
// carry the recurrence rule rather than concrete instance times, so they
// are not filtered by the time window here; the caller expands occurrences.
func (s *EventStore) QueryMasters(ctx context.Context, calendarID uuid.UUID) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE calendar_id = $1 AND is_recurring_master = true AND status != 'cancelled'
	`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryExceptions returns modified instances of recurring events (rows that
// carry a recurring_event_id) within [start, end).
func (s *EventStore) QueryExceptions(ctx context.Context, calendarID uuid.UUID, start, end time.Time) ([]*Event, error) {
	return s.queryByTimeRange(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE calendar_id = $1 AND recurring_event_id IS NOT NULL
		  AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
	`, calendarID, start, end)
}

func (s *EventStore) queryByTimeRange(ctx context.Context, sql string, calendarID uuid.UUID, start, end time.Time) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, sql, calendarID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := scanEventRow(rows, e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID retrieves a single event scoped to its owning user.
func (s *EventStore) GetByID(ctx context.Context, userID, eventID uuid.UUID) (*Event, error) {
	e := &Event{}
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events WHERE id = $1 AND user_id = $2
	`, eventID, userID)
	if err := scanEventRow(row, e); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

// CountPending returns the number of events still awaiting downstream
// embedding generation across the given calendars. The core never computes
// embeddings itself (a Non-goal); it only maintains the flag so an external
// worker can find the backlog.
func (s *EventStore) CountPending(ctx context.Context, calendarIDs []uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM events WHERE calendar_id = ANY($1) AND embedding_pending = true
	`, calendarIDs).Scan(&count)
	return count, err
}
