package syncengine

import (
	"testing"

	"github.com/google/uuid"
)

func newTestDispatcher() *WebhookDispatcher {
	return &WebhookDispatcher{debouncers: make(map[uuid.UUID]*debounceEntry)}
}

func TestScheduleResync_QueuesWhileSyncing(t *testing.T) {
	d := newTestDispatcher()
	calendarID, userID := uuid.New(), uuid.New()

	d.debouncers[calendarID] = &debounceEntry{syncing: true}

	d.scheduleResync(calendarID, userID)

	entry := d.debouncers[calendarID]
	if !entry.queued {
		t.Error("expected a push arriving mid-sync to be recorded as queued, not re-timered")
	}
	if entry.timer != nil {
		t.Error("expected no timer to be armed while a sync is already running")
	}
}

func TestScheduleResync_ArmsTimerWhenIdle(t *testing.T) {
	d := newTestDispatcher()
	calendarID, userID := uuid.New(), uuid.New()

	d.scheduleResync(calendarID, userID)

	entry := d.debouncers[calendarID]
	if entry == nil || entry.timer == nil {
		t.Fatal("expected a debounce timer to be armed for an idle calendar")
	}
	entry.timer.Stop()
}

func TestScheduleResync_ReplacesPendingTimer(t *testing.T) {
	d := newTestDispatcher()
	calendarID, userID := uuid.New(), uuid.New()

	d.scheduleResync(calendarID, userID)
	first := d.debouncers[calendarID].timer

	d.scheduleResync(calendarID, userID)
	second := d.debouncers[calendarID].timer

	if first == second {
		t.Error("expected a second push before the debounce fires to replace the pending timer")
	}
	second.Stop()
}

func TestNewChannelToken_ProducesUniqueHighEntropyTokens(t *testing.T) {
	a, err := newChannelToken()
	if err != nil {
		t.Fatalf("newChannelToken() error = %v", err)
	}
	b, err := newChannelToken()
	if err != nil {
		t.Fatalf("newChannelToken() error = %v", err)
	}
	if a == b {
		t.Error("expected two generated channel tokens to differ")
	}
	if len(a) != channelTokenEntropyBytes*2 {
		t.Errorf("token length = %d hex chars, want %d (%d bytes)", len(a), channelTokenEntropyBytes*2, channelTokenEntropyBytes)
	}
}
