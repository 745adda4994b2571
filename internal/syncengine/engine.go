package syncengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chronos-sync/core/internal/controller"
	"github.com/chronos-sync/core/internal/crypto"
	"github.com/chronos-sync/core/internal/google"
	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine runs the per-calendar sync state machine: fetch pages from Google,
// transform and upsert events, and persist progress so an interrupted run
// resumes instead of restarting.
type Engine struct {
	client    google.Client
	tokens    *google.TokenManager
	registry  *controller.Registry
	syncState *store.SyncStateStore
	events    *store.EventStore
	crypto    *crypto.Service
	log       *logrus.Logger
	ensurer   ChannelEnsurer
}

func NewEngine(client google.Client, tokens *google.TokenManager, registry *controller.Registry, syncState *store.SyncStateStore, events *store.EventStore, cryptoSvc *crypto.Service, log *logrus.Logger) *Engine {
	return &Engine{
		client:    client,
		tokens:    tokens,
		registry:  registry,
		syncState: syncState,
		events:    events,
		crypto:    cryptoSvc,
		log:       log,
	}
}

// SetChannelEnsurer wires in the webhook dispatcher after construction,
// breaking the otherwise-circular Engine/WebhookDispatcher dependency.
func (e *Engine) SetChannelEnsurer(ensurer ChannelEnsurer) {
	e.ensurer = ensurer
}

// SyncCalendar runs one sync pass for cal and reports progress on progress.
// progress may be nil, in which case the engine still persists results but
// emits nothing — the webhook dispatcher's debounced resync uses this mode.
func (e *Engine) SyncCalendar(ctx context.Context, userID, accountID uuid.UUID, cal *store.Calendar, progress chan<- StreamRecord) error {
	state, err := e.syncState.Get(ctx, cal.ID)
	if err != nil {
		return err
	}

	var useSyncToken, usePageToken *string
	isFullSync := true
	switch {
	case state.PageToken != nil:
		usePageToken = state.PageToken
	case state.SyncToken != nil:
		useSyncToken = state.SyncToken
		isFullSync = false
	}

	// resumingPageToken reflects how this run STARTED, not the per-page
	// cursor. It only changes on the error-retry transitions below, never
	// on an ordinary successful page turn, mirroring the original's
	// outer page_token vs. current_page_token split.
	resumingPageToken := usePageToken != nil

	retriedTokenExpired := false
	retriedPageResume := false
	start := time.Now()
	pagesFetched := 0
	itemsUpserted := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, err := e.fetchPage(ctx, userID, accountID, cal.ExternalID, useSyncToken, usePageToken)
		if err != nil {
			apiErr := google.Classify(err)

			if apiErr.Kind == google.KindSyncTokenExpired {
				if retriedTokenExpired {
					e.emitTerminal(ctx, progress, cal.ID, apiErr)
					return err
				}
				retriedTokenExpired = true
				if clearErr := e.syncState.ClearTokens(ctx, cal.ID); clearErr != nil {
					e.log.WithError(clearErr).WithField("calendar_id", cal.ID).Error("failed to clear sync state after 410")
				}
				useSyncToken, usePageToken = nil, nil
				isFullSync = true
				resumingPageToken = false
				continue
			}

			if resumingPageToken && !retriedPageResume {
				retriedPageResume = true
				useSyncToken, usePageToken = nil, nil
				isFullSync = true
				resumingPageToken = false
				continue
			}

			// Terminal: a page was in flight, so persist the resume point.
			if usePageToken != nil {
				empty := ""
				if setErr := e.syncState.SetTokens(ctx, cal.ID, &empty, usePageToken); setErr != nil {
					e.log.WithError(setErr).WithField("calendar_id", cal.ID).Error("failed to persist resume page token")
				}
			}
			if incErr := e.syncState.IncrementFailureCount(ctx, cal.ID); incErr != nil {
				e.log.WithError(incErr).WithField("calendar_id", cal.ID).Error("failed to record sync failure")
			}
			e.emitTerminal(ctx, progress, cal.ID, apiErr)
			return err
		}

		transformed := make([]*store.Event, 0, len(page.Events))
		for _, raw := range page.Events {
			te, terr := TransformEvent(raw, cal, userID, e.crypto)
			if terr != nil {
				e.log.WithError(terr).WithField("calendar_id", cal.ID).WithField("event_id", raw.Id).Warn("skipping event that failed to transform")
				continue
			}
			transformed = append(transformed, te)
		}

		upsertFailed := false
		if len(transformed) > 0 {
			if err := e.events.UpsertBatch(ctx, transformed); err != nil {
				e.log.WithError(err).WithField("calendar_id", cal.ID).Error("event upsert batch failed")
				upsertFailed = true
			} else {
				itemsUpserted += len(transformed)
			}
		}
		pagesFetched++

		views := e.decryptEventViews(proximitySort(transformed))
		emit(ctx, progress, StreamRecord{Type: KindEvents, CalendarID: cal.ID, Events: views})

		if page.NextPageToken != "" {
			next := page.NextPageToken
			usePageToken = &next
			useSyncToken = nil
			if err := e.syncState.SetTokens(ctx, cal.ID, nil, usePageToken); err != nil {
				e.log.WithError(err).WithField("calendar_id", cal.ID).Error("failed to persist page token")
			}
			continue
		}

		finalSyncToken := page.NextSyncToken
		if err := e.syncState.SetTokens(ctx, cal.ID, &finalSyncToken, nil); err != nil {
			e.log.WithError(err).WithField("calendar_id", cal.ID).Error("failed to persist sync token")
		}
		if err := e.syncState.MarkSyncCompleted(ctx, cal.ID, isFullSync, pagesFetched, itemsUpserted, time.Since(start)); err != nil {
			e.log.WithError(err).WithField("calendar_id", cal.ID).Error("failed to mark sync completed")
		}

		emit(ctx, progress, StreamRecord{Type: KindSyncToken, CalendarID: cal.ID, SyncToken: finalSyncToken})
		if upsertFailed {
			emit(ctx, progress, StreamRecord{Type: KindError, CalendarID: cal.ID, Code: "persist", Message: "one or more events in this page failed to persist", Retryable: true})
		}
		emit(ctx, progress, StreamRecord{Type: KindCalendarDone, CalendarID: cal.ID})

		if e.ensurer != nil {
			if err := e.ensurer.EnsureWebhookChannel(cal, accountID); err != nil {
				e.log.WithError(err).WithField("calendar_id", cal.ID).Warn("failed to ensure webhook channel")
			}
		}
		return nil
	}
}

func (e *Engine) fetchPage(ctx context.Context, userID, accountID uuid.UUID, externalCalendarID string, syncToken, pageToken *string) (*google.EventPage, error) {
	sem := e.registry.AccountSemaphore(accountID)
	if err := sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer sem.Release()

	classify := func(err error) bool {
		return google.Classify(err).Retryable
	}

	var page *google.EventPage
	err := controller.WithRetry(ctx, classify, func() error {
		accessToken, err := e.tokens.GetValidAccessToken(ctx, accountID, userID)
		if err != nil {
			return err
		}
		creds := &store.OAuthCredentials{AccessToken: accessToken}

		p, err := e.client.ListEvents(ctx, creds, externalCalendarID, syncToken, pageToken)
		if err != nil {
			p, err = e.retryAfterAuthFailure(ctx, accountID, userID, err, func(creds *store.OAuthCredentials) (*google.EventPage, error) {
				return e.client.ListEvents(ctx, creds, externalCalendarID, syncToken, pageToken)
			})
			if err != nil {
				return err
			}
		}
		page = p
		return nil
	})
	return page, err
}

// retryAfterAuthFailure implements the single refresh-and-retry a 401
// triggers: it is orthogonal to withRetry's backoff loop, firing at most
// once per call regardless of how many withRetry attempts remain. Any
// other error, or a second auth failure, propagates unchanged.
func (e *Engine) retryAfterAuthFailure(ctx context.Context, accountID, userID uuid.UUID, origErr error, call func(*store.OAuthCredentials) (*google.EventPage, error)) (*google.EventPage, error) {
	if google.Classify(origErr).Kind != google.KindAuth {
		return nil, origErr
	}

	accessToken, err := e.tokens.ForceRefreshAccessToken(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	return call(&store.OAuthCredentials{AccessToken: accessToken})
}

func (e *Engine) emitTerminal(ctx context.Context, progress chan<- StreamRecord, calendarID uuid.UUID, apiErr *google.APIError) {
	emit(ctx, progress, StreamRecord{
		Type:       KindError,
		CalendarID: calendarID,
		Code:       fmt.Sprintf("%d", apiErr.StatusCode),
		Message:    apiErr.Error(),
		Retryable:  apiErr.Retryable,
	})
}

// decryptEventViews opens summary/description/location for each event so the
// stream carries plaintext, never the ciphertext columns. An event that
// fails to decrypt is logged and dropped from the emission rather than
// failing the whole page; it is still persisted.
func (e *Engine) decryptEventViews(events []*store.Event) []*EventView {
	views := make([]*EventView, 0, len(events))
	for _, ev := range events {
		view, err := decryptEventView(ev, e.crypto)
		if err != nil {
			e.log.WithError(err).WithField("event_id", ev.ExternalID).Warn("skipping event that failed to decrypt for emission")
			continue
		}
		views = append(views, view)
	}
	return views
}

// proximitySort orders events by closeness to now for emission only; the
// storage order is unaffected since this operates on a copy of the slice.
// Events with no usable start time sort last.
func proximitySort(events []*store.Event) []*store.Event {
	now := time.Now()
	out := make([]*store.Event, len(events))
	copy(out, events)

	sort.SliceStable(out, func(i, j int) bool {
		di, oki := distanceFromNow(out[i], now)
		dj, okj := distanceFromNow(out[j], now)
		if oki != okj {
			return oki
		}
		if !oki {
			return false
		}
		return di < dj
	})
	return out
}

func distanceFromNow(e *store.Event, now time.Time) (time.Duration, bool) {
	if e.StartTime == nil {
		return 0, false
	}
	d := e.StartTime.Sub(now)
	if d < 0 {
		d = -d
	}
	return d, true
}
