// Package syncengine drives per-calendar synchronization against Google
// Calendar, fans it out across a user's calendars, and reacts to push
// notifications.
package syncengine

import (
	"context"

	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
)

// RecordKind tags the variant a StreamRecord carries.
type RecordKind string

const (
	KindEvents       RecordKind = "events"
	KindSyncToken    RecordKind = "sync_token"
	KindError        RecordKind = "error"
	KindCalendarDone RecordKind = "calendar_done"
	KindSyncError    RecordKind = "sync_error"
	KindComplete     RecordKind = "complete"
	KindKeepAlive    RecordKind = "keepalive"
)

// StreamRecord is one entry in a calendar's (or the orchestrator's merged)
// progress stream. Only the fields relevant to Type are populated.
type StreamRecord struct {
	Type            RecordKind
	CalendarID      uuid.UUID
	Events          []*EventView
	SyncToken       string
	Code            string
	Message         string
	Retryable       bool
	TotalEvents     int
	CalendarsSynced int
}

// ChannelEnsurer registers (or refreshes) a push-notification channel for a
// calendar after a successful sync. Implemented by WebhookDispatcher; kept
// as an interface so Engine doesn't depend on the dispatcher directly.
type ChannelEnsurer interface {
	EnsureWebhookChannel(cal *store.Calendar, accountID uuid.UUID) error
}

// emit sends rec on out unless out is nil (progressSink=∅, per the webhook
// dispatcher's silent-sync contract) or ctx is cancelled before the send
// can complete, in which case the record is dropped rather than leaking
// the sending goroutine against a consumer that has gone away.
func emit(ctx context.Context, out chan<- StreamRecord, rec StreamRecord) {
	if out == nil {
		return
	}
	select {
	case out <- rec:
	case <-ctx.Done():
	}
}
