package handler

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chronos-sync/core/internal/syncengine"
	"github.com/google/uuid"
)

func TestWriteSSE_KeepAliveIsACommentLine(t *testing.T) {
	w := httptest.NewRecorder()
	writeSSE(w, syncengine.StreamRecord{Type: syncengine.KindKeepAlive})

	if got := w.Body.String(); got != ": keep-alive\n\n" {
		t.Errorf("writeSSE(keepalive) = %q, want %q", got, ": keep-alive\n\n")
	}
}

func TestWriteSSE_NamesTheEventAfterRecordType(t *testing.T) {
	w := httptest.NewRecorder()
	writeSSE(w, syncengine.StreamRecord{Type: syncengine.KindCalendarDone, CalendarID: uuid.New()})

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: calendar_done\n") {
		t.Errorf("writeSSE() body = %q, want it to start with %q", body, "event: calendar_done\n")
	}
	if !strings.Contains(body, "\"calendar_id\"") {
		t.Errorf("writeSSE() body = %q, want a calendar_id field", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("writeSSE() body = %q, want it to end with a blank line", body)
	}
}

func TestWriteSSE_OmitsZeroCalendarID(t *testing.T) {
	w := httptest.NewRecorder()
	writeSSE(w, syncengine.StreamRecord{Type: syncengine.KindComplete, TotalEvents: 3, CalendarsSynced: 1})

	if body := w.Body.String(); strings.Contains(body, "\"calendar_id\"") {
		t.Errorf("writeSSE() body = %q, did not expect a calendar_id field for a record with no calendar", body)
	}
}
