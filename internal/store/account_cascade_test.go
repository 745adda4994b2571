//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chronos-sync/core/internal/crypto"
	"github.com/chronos-sync/core/internal/database"
	"github.com/chronos-sync/core/internal/store"
)

// testMasterKey is a fixed all-zero key; these tests never touch real tokens.
const testMasterKey = "0000000000000000000000000000000000000000000000000000000000000000"

func TestAccountDeletionCascadesToCalendarsAndEvents(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := database.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cryptoSvc, err := crypto.NewService(testMasterKey)
	if err != nil {
		t.Fatalf("Failed to build crypto service: %v", err)
	}

	users := store.NewUserStore(db.Pool)
	accounts := store.NewAccountStore(db.Pool, cryptoSvc)
	calendars := store.NewCalendarStore(db.Pool)
	events := store.NewEventStore(db.Pool)
	syncState := store.NewSyncStateStore(db.Pool)

	email := "account-cascade-" + uuid.New().String()[:8] + "@test.com"
	user, err := users.GetOrCreateByEmail(ctx, email)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	defer cleanupUser(t, db, user.ID)

	creds := store.OAuthCredentials{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(time.Hour),
	}
	account, err := accounts.Create(ctx, user.ID, email, "Test User", []string{"calendar.readonly"}, creds)
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	cal, err := calendars.Upsert(ctx, &store.Calendar{
		AccountID:  account.ID,
		UserID:     user.ID,
		ExternalID: "primary",
		Summary:    "Primary",
		IsPrimary:  true,
	})
	if err != nil {
		t.Fatalf("Failed to create calendar: %v", err)
	}

	if err := syncState.SaveWebhookRegistration(ctx, cal.ID, "chan-1", "tok-1", "res-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to save webhook registration: %v", err)
	}

	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	if err := events.UpsertBatch(ctx, []*store.Event{{
		CalendarID: cal.ID,
		UserID:     user.ID,
		ExternalID: "event-1",
		Status:     "confirmed",
		StartTime:  &start,
		EndTime:    &end,
	}}); err != nil {
		t.Fatalf("Failed to upsert event: %v", err)
	}

	t.Run("events visible before account deletion", func(t *testing.T) {
		got, err := events.QuerySingle(ctx, cal.ID, start, end.Add(time.Hour))
		if err != nil {
			t.Fatalf("QuerySingle() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("QuerySingle() returned %d events, want 1", len(got))
		}
	})

	if err := accounts.Delete(ctx, user.ID, account.ID); err != nil {
		t.Fatalf("Failed to delete account: %v", err)
	}

	t.Run("calendar gone after account deletion", func(t *testing.T) {
		if _, err := calendars.GetByID(ctx, cal.ID); err == nil {
			t.Error("expected calendar to be removed by cascade")
		}
	})

	t.Run("events gone after account deletion", func(t *testing.T) {
		got, err := events.QuerySingle(ctx, cal.ID, start, end.Add(time.Hour))
		if err != nil {
			t.Fatalf("QuerySingle() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("QuerySingle() returned %d events after cascade delete, want 0", len(got))
		}
	})
}

func cleanupUser(t *testing.T, db *database.DB, userID uuid.UUID) {
	ctx := context.Background()
	if _, err := db.Pool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID); err != nil {
		t.Logf("warning: failed to clean up test user: %v", err)
	}
}
