package syncengine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/chronos-sync/core/internal/google"
	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WebhookDebounce is how long the dispatcher waits after a push notification
// before actually resyncing, coalescing bursts of pushes for the same
// calendar into a single run.
const WebhookDebounce = 2 * time.Second

// channelTokenEntropyBytes is the raw entropy backing a generated channel
// token before hex-encoding, satisfying the >=32-byte requirement.
const channelTokenEntropyBytes = 32

// webhookRefreshBuffer is how far ahead of a channel's expiration
// EnsureWebhookChannel re-registers it rather than waiting for it to lapse.
const webhookRefreshBuffer = 24 * time.Hour

var (
	// ErrChannelUnknown means the push's Channel-Id matched no sync state;
	// the caller should silently drop the notification.
	ErrChannelUnknown = errors.New("unknown webhook channel")
	// ErrChannelTokenMismatch means the push's Channel-Token did not match
	// the token stored at registration time.
	ErrChannelTokenMismatch = errors.New("webhook channel token mismatch")
)

// debounceEntry tracks one calendar's in-flight/queued resync state,
// mirroring the three-state debounce (pending timer / syncing / queued
// rerun) the push handler needs to coalesce bursts of notifications.
type debounceEntry struct {
	timer    *time.Timer
	syncing  bool
	queued   bool
}

// WebhookDispatcher validates inbound Google push notifications and
// triggers debounced, silent (progressSink=nil) resyncs through Engine.
type WebhookDispatcher struct {
	engine     *Engine
	syncState  *store.SyncStateStore
	calendars  *store.CalendarStore
	accounts   *store.AccountStore
	client     google.Client
	webhookURL func(calendarID uuid.UUID) string
	log        *logrus.Logger

	mu         sync.Mutex
	debouncers map[uuid.UUID]*debounceEntry
}

func NewWebhookDispatcher(engine *Engine, syncState *store.SyncStateStore, calendars *store.CalendarStore, accounts *store.AccountStore, client google.Client, webhookURL func(uuid.UUID) string, log *logrus.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		engine:     engine,
		syncState:  syncState,
		calendars:  calendars,
		accounts:   accounts,
		client:     client,
		webhookURL: webhookURL,
		log:        log,
		debouncers: make(map[uuid.UUID]*debounceEntry),
	}
}

// HandlePush validates an inbound notification and, if it warrants a
// resync, schedules one. channelID/token/resourceState come straight off
// the X-Goog-Channel-Id/Token/Resource-State headers.
func (d *WebhookDispatcher) HandlePush(ctx context.Context, channelID, token, resourceState string) error {
	calendarID, userID, err := d.syncState.GetByWebhookChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrSyncStateNotFound) {
			return ErrChannelUnknown
		}
		return err
	}

	state, err := d.syncState.Get(ctx, calendarID)
	if err != nil {
		return err
	}
	if state.WebhookChannelToken == nil || *state.WebhookChannelToken != token {
		return ErrChannelTokenMismatch
	}

	if resourceState == "sync" {
		return nil
	}

	d.scheduleResync(calendarID, userID)
	return nil
}

// scheduleResync implements the pending/syncing/queued debounce: a push
// that arrives while a resync is executing is recorded as "queued" and
// re-armed when that run finishes; otherwise any pending timer is replaced.
func (d *WebhookDispatcher) scheduleResync(calendarID, userID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.debouncers[calendarID]
	if !ok {
		entry = &debounceEntry{}
		d.debouncers[calendarID] = entry
	}

	if entry.syncing {
		entry.queued = true
		return
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(WebhookDebounce, func() {
		d.runDebouncedSync(calendarID, userID)
	})
}

func (d *WebhookDispatcher) runDebouncedSync(calendarID, userID uuid.UUID) {
	d.mu.Lock()
	entry := d.debouncers[calendarID]
	entry.syncing = true
	entry.timer = nil
	d.mu.Unlock()

	cal, err := d.calendars.GetByID(context.Background(), calendarID)
	if err != nil {
		d.log.WithError(err).WithField("calendar_id", calendarID).Error("debounced resync: failed to load calendar")
	} else {
		// progressSink=nil: persist results, emit nothing — no client is
		// listening for a push-triggered sync.
		if err := d.engine.SyncCalendar(context.Background(), userID, cal.AccountID, cal, nil); err != nil {
			d.log.WithError(err).WithField("calendar_id", calendarID).Warn("debounced resync failed")
		}
	}

	d.mu.Lock()
	entry.syncing = false
	requeue := entry.queued
	entry.queued = false
	d.mu.Unlock()

	if requeue {
		d.scheduleResync(calendarID, userID)
	}
}

// EnsureWebhookChannel implements ChannelEnsurer: it registers (or
// refreshes) a push-notification channel for cal after a successful sync,
// skipping re-registration if the existing channel is valid well past
// webhookRefreshBuffer.
func (d *WebhookDispatcher) EnsureWebhookChannel(cal *store.Calendar, accountID uuid.UUID) error {
	ctx := context.Background()

	state, err := d.syncState.Get(ctx, cal.ID)
	if err != nil {
		return err
	}
	if state.WebhookExpiration != nil && time.Until(*state.WebhookExpiration) > webhookRefreshBuffer {
		return nil
	}

	channelID := uuid.New().String()
	token, err := newChannelToken()
	if err != nil {
		return err
	}

	// EnsureWebhookChannel runs after a successful sync, so the account's
	// stored access token is normally fresh; it is read straight from the
	// account store, without going through the token manager, so no
	// refresh is attempted here.
	creds, err := d.accountCreds(ctx, accountID, cal.UserID)
	if err != nil {
		return err
	}

	watch, err := d.client.Watch(ctx, creds, cal.ExternalID, channelID, token, d.webhookURL(cal.ID))
	if err != nil {
		if google.PushNotSupported(err) {
			d.log.WithField("calendar_id", cal.ID).Info("calendar does not support push notifications; skipping watch")
			return nil
		}
		return err
	}

	return d.syncState.SaveWebhookRegistration(ctx, cal.ID, watch.ChannelID, token, watch.ResourceID, watch.Expiration)
}

func (d *WebhookDispatcher) accountCreds(ctx context.Context, accountID, userID uuid.UUID) (*store.OAuthCredentials, error) {
	return d.accounts.GetTokens(ctx, accountID, userID)
}

func newChannelToken() (string, error) {
	buf := make([]byte, channelTokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
