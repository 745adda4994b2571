package syncengine

import (
	"encoding/json"
	"time"

	"github.com/chronos-sync/core/internal/crypto"
	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

const noTitlePlaceholder = "(No title)"

// TransformEvent maps one raw Calendar v3 event into the persisted shape,
// encrypting the user-authored text fields under the owning user's key.
// start falls back to originalStartTime when the instance itself carries no
// start (defensive; Google's feed shouldn't produce this, but the original
// handles it); colorId falls back to the calendar's own color so every
// event always has one to render with.
func TransformEvent(raw *calendar.Event, cal *store.Calendar, userID uuid.UUID, cryptoSvc *crypto.Service) (*store.Event, error) {
	start := raw.Start
	if start == nil {
		start = raw.OriginalStartTime
	}
	if start == nil {
		start = &calendar.EventDateTime{}
	}
	end := raw.End
	if end == nil {
		end = &calendar.EventDateTime{}
	}

	startTime, isAllDay, allDayDate := parseDateTime(start)
	endTime, _, _ := parseDateTime(end)

	summary := raw.Summary
	if summary == "" {
		summary = noTitlePlaceholder
	}
	summaryEnc, err := cryptoSvc.Encrypt([]byte(summary), userID.String())
	if err != nil {
		return nil, err
	}
	descriptionEnc, err := encryptOptionalField(cryptoSvc, userID, raw.Description)
	if err != nil {
		return nil, err
	}
	locationEnc, err := encryptOptionalField(cryptoSvc, userID, raw.Location)
	if err != nil {
		return nil, err
	}

	var recurringEventID *string
	if raw.RecurringEventId != "" {
		id := raw.RecurringEventId
		recurringEventID = &id
	}

	var originalStartTime *string
	if raw.OriginalStartTime != nil {
		if raw.OriginalStartTime.DateTime != "" {
			originalStartTime = &raw.OriginalStartTime.DateTime
		} else if raw.OriginalStartTime.Date != "" {
			originalStartTime = &raw.OriginalStartTime.Date
		}
	}

	status := raw.Status
	if status == "" {
		status = "confirmed"
	}
	visibility := raw.Visibility
	if visibility == "" {
		visibility = "default"
	}
	transparency := raw.Transparency
	if transparency == "" {
		transparency = "opaque"
	}

	colorID := raw.ColorId
	if colorID == "" {
		colorID = cal.Color
	}

	var attendeesJSON, organizerJSON, remindersJSON, conferenceDataJSON *string
	if len(raw.Attendees) > 0 {
		if attendeesJSON, err = marshalJSON(raw.Attendees); err != nil {
			return nil, err
		}
	}
	if raw.Organizer != nil {
		if organizerJSON, err = marshalJSON(raw.Organizer); err != nil {
			return nil, err
		}
	}
	if raw.Reminders != nil {
		if remindersJSON, err = marshalJSON(raw.Reminders); err != nil {
			return nil, err
		}
	}
	if raw.ConferenceData != nil {
		if conferenceDataJSON, err = marshalJSON(raw.ConferenceData); err != nil {
			return nil, err
		}
	}

	return &store.Event{
		CalendarID:         cal.ID,
		UserID:             userID,
		ExternalID:         raw.Id,
		ICalUID:            raw.ICalUID,
		Recurrence:         raw.Recurrence,
		RecurringEventID:   recurringEventID,
		IsRecurringMaster:  len(raw.Recurrence) > 0,
		OriginalStartTime:  originalStartTime,
		Status:             status,
		Visibility:         visibility,
		Transparency:       transparency,
		StartTime:          startTime,
		EndTime:            endTime,
		IsAllDay:           isAllDay,
		AllDayDate:         allDayDate,
		SummaryEnc:         &summaryEnc,
		DescriptionEnc:     descriptionEnc,
		LocationEnc:        locationEnc,
		AttendeesJSON:      attendeesJSON,
		OrganizerJSON:      organizerJSON,
		ColorID:            colorID,
		RemindersJSON:      remindersJSON,
		ConferenceDataJSON: conferenceDataJSON,
		HTMLLink:           raw.HtmlLink,
		ETag:               raw.Etag,
		EmbeddingPending:   status != "cancelled",
	}, nil
}

// parseDateTime resolves a Calendar v3 EventDateTime. A non-empty Date
// field (no time component) marks an all-day event; DateTime takes
// priority when both happen to be set.
func parseDateTime(dt *calendar.EventDateTime) (t *time.Time, isAllDay bool, dateStr *string) {
	if dt == nil {
		return nil, false, nil
	}
	if dt.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return nil, false, nil
		}
		return &parsed, false, nil
	}
	if dt.Date != "" {
		parsed, err := time.Parse("2006-01-02", dt.Date)
		if err != nil {
			return nil, true, &dt.Date
		}
		date := dt.Date
		return &parsed, true, &date
	}
	return nil, false, nil
}

func encryptOptionalField(cryptoSvc *crypto.Service, userID uuid.UUID, value string) (*string, error) {
	if value == "" {
		return nil, nil
	}
	enc, err := cryptoSvc.Encrypt([]byte(value), userID.String())
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

// EventView is the plaintext, client-facing projection of a stored Event:
// summary/description/location decrypted, and the JSON-blob columns parsed
// back into nested values instead of the opaque strings they're stored as.
type EventView struct {
	ID                string          `json:"id"`
	CalendarID        string          `json:"calendar_id"`
	ExternalID        string          `json:"external_id"`
	ICalUID           string          `json:"ical_uid,omitempty"`
	Recurrence        []string        `json:"recurrence,omitempty"`
	RecurringEventID  *string         `json:"recurring_event_id,omitempty"`
	IsRecurringMaster bool            `json:"is_recurring_master,omitempty"`
	OriginalStartTime *string         `json:"original_start_time,omitempty"`
	Status            string          `json:"status"`
	Visibility        string          `json:"visibility,omitempty"`
	Transparency      string          `json:"transparency,omitempty"`
	StartTime         *time.Time      `json:"start_time,omitempty"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	IsAllDay          bool            `json:"is_all_day,omitempty"`
	AllDayDate        *string         `json:"all_day_date,omitempty"`
	Summary           string          `json:"summary"`
	Description       string          `json:"description,omitempty"`
	Location          string          `json:"location,omitempty"`
	Attendees         json.RawMessage `json:"attendees,omitempty"`
	Organizer         json.RawMessage `json:"organizer,omitempty"`
	ColorID           string          `json:"color_id,omitempty"`
	Reminders         json.RawMessage `json:"reminders,omitempty"`
	ConferenceData    json.RawMessage `json:"conference_data,omitempty"`
	HTMLLink          string          `json:"html_link,omitempty"`
	ETag              string          `json:"etag,omitempty"`
	EmbeddingPending  bool            `json:"embedding_pending"`
}

// decryptEventView reverses TransformEvent's encryption step, producing the
// view emitted to the client over the sync stream.
func decryptEventView(e *store.Event, cryptoSvc *crypto.Service) (*EventView, error) {
	summary, err := decryptOptionalField(cryptoSvc, e.UserID, e.SummaryEnc)
	if err != nil {
		return nil, err
	}
	description, err := decryptOptionalField(cryptoSvc, e.UserID, e.DescriptionEnc)
	if err != nil {
		return nil, err
	}
	location, err := decryptOptionalField(cryptoSvc, e.UserID, e.LocationEnc)
	if err != nil {
		return nil, err
	}

	return &EventView{
		ID:                e.ID.String(),
		CalendarID:        e.CalendarID.String(),
		ExternalID:        e.ExternalID,
		ICalUID:           e.ICalUID,
		Recurrence:        e.Recurrence,
		RecurringEventID:  e.RecurringEventID,
		IsRecurringMaster: e.IsRecurringMaster,
		OriginalStartTime: e.OriginalStartTime,
		Status:            e.Status,
		Visibility:        e.Visibility,
		Transparency:      e.Transparency,
		StartTime:         e.StartTime,
		EndTime:           e.EndTime,
		IsAllDay:          e.IsAllDay,
		AllDayDate:        e.AllDayDate,
		Summary:           summary,
		Description:       description,
		Location:          location,
		Attendees:         rawJSON(e.AttendeesJSON),
		Organizer:         rawJSON(e.OrganizerJSON),
		ColorID:           e.ColorID,
		Reminders:         rawJSON(e.RemindersJSON),
		ConferenceData:    rawJSON(e.ConferenceDataJSON),
		HTMLLink:          e.HTMLLink,
		ETag:              e.ETag,
		EmbeddingPending:  e.EmbeddingPending,
	}, nil
}

func decryptOptionalField(cryptoSvc *crypto.Service, userID uuid.UUID, enc *string) (string, error) {
	if enc == nil {
		return "", nil
	}
	plain, err := cryptoSvc.Decrypt(*enc, userID.String())
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func rawJSON(blob *string) json.RawMessage {
	if blob == nil {
		return nil
	}
	return json.RawMessage(*blob)
}

func marshalJSON(v any) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
