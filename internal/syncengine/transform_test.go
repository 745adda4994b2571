package syncengine

import (
	"testing"

	"github.com/chronos-sync/core/internal/crypto"
	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

const testMasterKey = "0000000000000000000000000000000000000000000000000000000000000000"

func newTestCrypto(t *testing.T) *crypto.Service {
	t.Helper()
	svc, err := crypto.NewService(testMasterKey)
	if err != nil {
		t.Fatalf("crypto.NewService() error = %v", err)
	}
	return svc
}

func TestTransformEvent_TimedEvent(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	userID := uuid.New()
	cal := &store.Calendar{ID: uuid.New(), Color: "#ffffff"}

	raw := &calendar.Event{
		Id:      "evt-1",
		ICalUID: "ical-1",
		Summary: "Standup",
		Start:   &calendar.EventDateTime{DateTime: "2026-01-15T10:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2026-01-15T10:30:00Z"},
	}

	got, err := TransformEvent(raw, cal, userID, cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}

	if got.IsAllDay {
		t.Error("expected timed event, got IsAllDay=true")
	}
	if got.StartTime == nil || got.StartTime.Hour() != 10 {
		t.Errorf("unexpected StartTime: %v", got.StartTime)
	}
	if got.Status != "confirmed" {
		t.Errorf("Status = %q, want confirmed", got.Status)
	}
	if got.ColorID != cal.Color {
		t.Errorf("ColorID = %q, want calendar fallback %q", got.ColorID, cal.Color)
	}
	if got.SummaryEnc == nil {
		t.Fatal("expected SummaryEnc to be set")
	}
	plaintext, err := cryptoSvc.Decrypt(*got.SummaryEnc, userID.String())
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != "Standup" {
		t.Errorf("decrypted summary = %q, want Standup", plaintext)
	}
	if got.DescriptionEnc != nil {
		t.Error("expected nil DescriptionEnc for empty description")
	}
}

func TestTransformEvent_AllDayEvent(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	cal := &store.Calendar{ID: uuid.New()}

	raw := &calendar.Event{
		Id:    "evt-2",
		Start: &calendar.EventDateTime{Date: "2026-03-01"},
		End:   &calendar.EventDateTime{Date: "2026-03-02"},
	}

	got, err := TransformEvent(raw, cal, uuid.New(), cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}

	if !got.IsAllDay {
		t.Error("expected IsAllDay=true")
	}
	if got.AllDayDate == nil || *got.AllDayDate != "2026-03-01" {
		t.Errorf("AllDayDate = %v, want 2026-03-01", got.AllDayDate)
	}
}

func TestTransformEvent_MissingSummaryDefaults(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	userID := uuid.New()
	cal := &store.Calendar{ID: uuid.New()}

	raw := &calendar.Event{Id: "evt-3"}

	got, err := TransformEvent(raw, cal, userID, cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}

	plaintext, err := cryptoSvc.Decrypt(*got.SummaryEnc, userID.String())
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != noTitlePlaceholder {
		t.Errorf("summary = %q, want placeholder %q", plaintext, noTitlePlaceholder)
	}
}

func TestTransformEvent_CancelledClearsEmbeddingPending(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	cal := &store.Calendar{ID: uuid.New()}

	raw := &calendar.Event{
		Id:     "evt-4",
		Status: "cancelled",
	}

	got, err := TransformEvent(raw, cal, uuid.New(), cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}
	if got.EmbeddingPending {
		t.Error("expected EmbeddingPending=false for cancelled event")
	}
}

func TestTransformEvent_RecurrenceMarksMaster(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	cal := &store.Calendar{ID: uuid.New()}

	raw := &calendar.Event{
		Id:         "evt-5",
		Recurrence: []string{"RRULE:FREQ=WEEKLY"},
	}

	got, err := TransformEvent(raw, cal, uuid.New(), cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}
	if !got.IsRecurringMaster {
		t.Error("expected IsRecurringMaster=true when Recurrence is set")
	}
}

func TestTransformEvent_AttendeesMarshaledOnlyWhenPresent(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	cal := &store.Calendar{ID: uuid.New()}

	withAttendees := &calendar.Event{
		Id: "evt-6",
		Attendees: []*calendar.EventAttendee{
			{Email: "a@example.com"},
		},
	}
	got, err := TransformEvent(withAttendees, cal, uuid.New(), cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}
	if got.AttendeesJSON == nil {
		t.Fatal("expected AttendeesJSON to be set")
	}

	noAttendees := &calendar.Event{Id: "evt-7"}
	got, err = TransformEvent(noAttendees, cal, uuid.New(), cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}
	if got.AttendeesJSON != nil {
		t.Error("expected nil AttendeesJSON when no attendees present")
	}
}

func TestDecryptEventView_ReproducesPlaintext(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	userID := uuid.New()
	cal := &store.Calendar{ID: uuid.New(), Color: "#ffffff"}

	raw := &calendar.Event{
		Id:          "evt-8",
		Summary:     "Standup",
		Description: "daily sync",
		Location:    "Room 4",
		Start:       &calendar.EventDateTime{DateTime: "2026-01-15T10:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2026-01-15T10:30:00Z"},
	}

	stored, err := TransformEvent(raw, cal, userID, cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}
	stored.ID = uuid.New()
	stored.UserID = userID

	view, err := decryptEventView(stored, cryptoSvc)
	if err != nil {
		t.Fatalf("decryptEventView() error = %v", err)
	}

	if view.Summary != "Standup" {
		t.Errorf("Summary = %q, want Standup", view.Summary)
	}
	if view.Description != "daily sync" {
		t.Errorf("Description = %q, want %q", view.Description, "daily sync")
	}
	if view.Location != "Room 4" {
		t.Errorf("Location = %q, want %q", view.Location, "Room 4")
	}
}

func TestDecryptEventView_MissingOptionalFieldsStayEmpty(t *testing.T) {
	cryptoSvc := newTestCrypto(t)
	userID := uuid.New()
	cal := &store.Calendar{ID: uuid.New()}

	raw := &calendar.Event{Id: "evt-9"}
	stored, err := TransformEvent(raw, cal, userID, cryptoSvc)
	if err != nil {
		t.Fatalf("TransformEvent() error = %v", err)
	}
	stored.ID = uuid.New()
	stored.UserID = userID

	view, err := decryptEventView(stored, cryptoSvc)
	if err != nil {
		t.Fatalf("decryptEventView() error = %v", err)
	}
	if view.Description != "" || view.Location != "" {
		t.Errorf("expected empty Description/Location, got %q/%q", view.Description, view.Location)
	}
	if view.Attendees != nil {
		t.Error("expected nil Attendees for an event with none")
	}
}
