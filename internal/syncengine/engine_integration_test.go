//go:build integration

package syncengine_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	calendarv3 "google.golang.org/api/calendar/v3"

	"github.com/chronos-sync/core/internal/controller"
	"github.com/chronos-sync/core/internal/crypto"
	"github.com/chronos-sync/core/internal/database"
	"github.com/chronos-sync/core/internal/google"
	"github.com/chronos-sync/core/internal/store"
	"github.com/chronos-sync/core/internal/syncengine"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
)

const engineTestMasterKey = "1111111111111111111111111111111111111111111111111111111111111111"

type engineFixture struct {
	db        *database.DB
	engine    *syncengine.Engine
	client    *google.MockClient
	accounts  *store.AccountStore
	calendars *store.CalendarStore
	syncState *store.SyncStateStore
	events    *store.EventStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := database.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	cryptoSvc, err := crypto.NewService(engineTestMasterKey)
	if err != nil {
		t.Fatalf("crypto.NewService() error = %v", err)
	}

	accounts := store.NewAccountStore(db.Pool, cryptoSvc)
	calendars := store.NewCalendarStore(db.Pool)
	events := store.NewEventStore(db.Pool)
	syncState := store.NewSyncStateStore(db.Pool)

	client := google.NewMockClient()
	registry := controller.NewRegistry()
	log := logrus.New()
	log.SetOutput(testWriter{t})
	tokenManager := google.NewTokenManager(accounts, client, registry, log)

	engine := syncengine.NewEngine(client, tokenManager, registry, syncState, events, cryptoSvc, log)

	return &engineFixture{
		db: db, engine: engine, client: client,
		accounts: accounts, calendars: calendars, syncState: syncState, events: events,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func (f *engineFixture) newAccountAndCalendar(t *testing.T, users *store.UserStore) (*store.GoogleAccount, *store.Calendar, *store.User) {
	t.Helper()
	ctx := context.Background()
	email := "engine-test-" + uuid.New().String()[:8] + "@test.com"
	user, err := users.GetOrCreateByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetOrCreateByEmail() error = %v", err)
	}
	t.Cleanup(func() {
		f.db.Pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", user.ID)
	})

	account, err := f.accounts.Create(ctx, user.ID, email, "Test User", []string{"calendar.readonly"}, store.OAuthCredentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("accounts.Create() error = %v", err)
	}

	cal, err := f.calendars.Upsert(ctx, &store.Calendar{
		AccountID:  account.ID,
		UserID:     user.ID,
		ExternalID: "ext-" + uuid.New().String()[:8],
		Summary:    "Primary",
		IsPrimary:  true,
	})
	if err != nil {
		t.Fatalf("calendars.Upsert() error = %v", err)
	}

	return account, cal, user
}

func TestSyncCalendar_FullSyncSinglePage(t *testing.T) {
	f := newEngineFixture(t)
	users := store.NewUserStore(f.db.Pool)
	account, cal, user := f.newAccountAndCalendar(t, users)

	f.client.QueuePage(cal.ExternalID, &google.EventPage{
		Events: []*calendarv3.Event{
			{Id: "evt-1", Summary: "Meeting", Start: &calendarv3.EventDateTime{DateTime: "2026-02-01T09:00:00Z"}, End: &calendarv3.EventDateTime{DateTime: "2026-02-01T10:00:00Z"}},
		},
		NextSyncToken: "final-token",
	})

	progress := make(chan syncengine.StreamRecord, 16)
	ctx := context.Background()
	if err := f.engine.SyncCalendar(ctx, user.ID, account.ID, cal, progress); err != nil {
		t.Fatalf("SyncCalendar() error = %v", err)
	}
	close(progress)

	var sawEvents, sawToken, sawDone bool
	for rec := range progress {
		switch rec.Type {
		case syncengine.KindEvents:
			sawEvents = true
			if len(rec.Events) != 1 {
				t.Errorf("events record carried %d events, want 1", len(rec.Events))
			}
		case syncengine.KindSyncToken:
			sawToken = true
			if rec.SyncToken != "final-token" {
				t.Errorf("SyncToken = %q, want final-token", rec.SyncToken)
			}
		case syncengine.KindCalendarDone:
			sawDone = true
		}
	}
	if !sawEvents || !sawToken || !sawDone {
		t.Errorf("expected events, sync_token, calendar_done records; got events=%v token=%v done=%v", sawEvents, sawToken, sawDone)
	}

	state, err := f.syncState.Get(ctx, cal.ID)
	if err != nil {
		t.Fatalf("syncState.Get() error = %v", err)
	}
	if state.SyncToken == nil || *state.SyncToken != "final-token" {
		t.Errorf("persisted SyncToken = %v, want final-token", state.SyncToken)
	}
	if !state.FullSyncComplete {
		t.Error("expected FullSyncComplete=true after a full sync")
	}
}

func TestSyncCalendar_FollowsNextPageToken(t *testing.T) {
	f := newEngineFixture(t)
	users := store.NewUserStore(f.db.Pool)
	account, cal, user := f.newAccountAndCalendar(t, users)

	f.client.QueuePage(cal.ExternalID, &google.EventPage{
		Events:        []*calendarv3.Event{{Id: "evt-1"}},
		NextPageToken: "page-2",
	})
	f.client.QueuePage(cal.ExternalID, &google.EventPage{
		Events:        []*calendarv3.Event{{Id: "evt-2"}},
		NextSyncToken: "final-token",
	})

	ctx := context.Background()
	if err := f.engine.SyncCalendar(ctx, user.ID, account.ID, cal, nil); err != nil {
		t.Fatalf("SyncCalendar() error = %v", err)
	}

	if len(f.client.ListEventsCalls) != 2 {
		t.Fatalf("expected 2 ListEvents calls across the two pages, got %d", len(f.client.ListEventsCalls))
	}
	second := f.client.ListEventsCalls[1]
	if second.PageToken == nil || *second.PageToken != "page-2" {
		t.Errorf("second call PageToken = %v, want page-2", second.PageToken)
	}

	state, err := f.syncState.Get(ctx, cal.ID)
	if err != nil {
		t.Fatalf("syncState.Get() error = %v", err)
	}
	if state.PageToken != nil {
		t.Errorf("expected PageToken to be cleared after the final page, got %v", state.PageToken)
	}
}

func TestSyncCalendar_PersistsProgressOnMidSyncFailure(t *testing.T) {
	f := newEngineFixture(t)
	users := store.NewUserStore(f.db.Pool)
	account, cal, user := f.newAccountAndCalendar(t, users)

	f.client.QueuePage(cal.ExternalID, &google.EventPage{
		Events:        []*calendarv3.Event{{Id: "evt-1"}},
		NextPageToken: "page-2",
	})
	failing := &failAfterFirstCall{MockClient: f.client, err: &googleapi.Error{Code: 400, Message: "bad request"}}
	cryptoSvc, err := crypto.NewService(engineTestMasterKey)
	if err != nil {
		t.Fatalf("crypto.NewService() error = %v", err)
	}
	registry := controller.NewRegistry()
	log := logrus.New()
	log.SetOutput(testWriter{t})
	engine := syncengine.NewEngine(failing, google.NewTokenManager(f.accounts, failing, registry, log), registry, f.syncState, f.events, cryptoSvc, log)

	ctx := context.Background()
	err = engine.SyncCalendar(ctx, user.ID, account.ID, cal, nil)
	if err == nil {
		t.Fatal("expected SyncCalendar() to fail when the second page's fetch fails")
	}

	state, err := f.syncState.Get(ctx, cal.ID)
	if err != nil {
		t.Fatalf("syncState.Get() error = %v", err)
	}
	if state.PageToken == nil || *state.PageToken != "page-2" {
		t.Errorf("expected the in-flight page token to be persisted for resume, got %v", state.PageToken)
	}
	if state.SyncFailureCount != 1 {
		t.Errorf("SyncFailureCount = %d, want 1", state.SyncFailureCount)
	}
}

// failAfterFirstCall serves the first ListEvents call from the wrapped mock
// and fails every later call with err.
type failAfterFirstCall struct {
	*google.MockClient
	calls int
	err   error
}

func (c *failAfterFirstCall) ListEvents(ctx context.Context, creds *store.OAuthCredentials, calendarID string, syncToken, pageToken *string) (*google.EventPage, error) {
	c.calls++
	if c.calls > 1 {
		return nil, c.err
	}
	return c.MockClient.ListEvents(ctx, creds, calendarID, syncToken, pageToken)
}

type nonRetryableError struct{}

func (e *nonRetryableError) Error() string { return "mock non-retryable failure" }
