package google

import (
	"context"
	"errors"
	"time"

	"github.com/chronos-sync/core/internal/controller"
	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// refreshBuffer is how far ahead of actual expiry a token is treated as
// stale, so a call never starts with a token that expires mid-flight.
const refreshBuffer = 5 * time.Minute

// ErrNeedsReauth is returned when Google has revoked the refresh token and
// the user must relink the account.
var ErrNeedsReauth = errors.New("google account needs re-authentication")

// TokenManager produces valid access tokens for a Google account, refreshing
// through Google and persisting the result when the cached token is stale.
// Concurrent callers for the same account coalesce onto a single refresh via
// a double-checked lock, so a burst of calendars syncing under one account
// triggers at most one refresh request.
type TokenManager struct {
	accounts *store.AccountStore
	client   Client
	registry *controller.Registry
	log      *logrus.Logger
}

func NewTokenManager(accounts *store.AccountStore, client Client, registry *controller.Registry, log *logrus.Logger) *TokenManager {
	return &TokenManager{accounts: accounts, client: client, registry: registry, log: log}
}

// GetValidAccessToken returns a usable access token for accountID, refreshing
// it first if it is within refreshBuffer of expiry or already expired.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, accountID, userID uuid.UUID) (string, error) {
	creds, err := m.accounts.GetTokens(ctx, accountID, userID)
	if err != nil {
		return "", err
	}

	if !needsRefresh(creds.Expiry) {
		return creds.AccessToken, nil
	}

	return m.refreshAccessToken(ctx, accountID, userID, true)
}

// ForceRefreshAccessToken unconditionally refreshes accountID's access
// token via Google's OAuth endpoint, bypassing the expiry cache
// GetValidAccessToken relies on. It backs the single refresh-and-retry the
// sync engine performs in reaction to a live 401, which is orthogonal to
// the backoff-driven retry loop.
func (m *TokenManager) ForceRefreshAccessToken(ctx context.Context, accountID, userID uuid.UUID) (string, error) {
	return m.refreshAccessToken(ctx, accountID, userID, false)
}

func (m *TokenManager) refreshAccessToken(ctx context.Context, accountID, userID uuid.UUID, recheckCache bool) (string, error) {
	lock := m.registry.RefreshLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: another goroutine may have already refreshed
	// while we were waiting.
	creds, err := m.accounts.GetTokens(ctx, accountID, userID)
	if err != nil {
		return "", err
	}
	if recheckCache && !needsRefresh(creds.Expiry) {
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" {
		if markErr := m.accounts.MarkNeedsReauth(ctx, accountID); markErr != nil {
			m.log.WithError(markErr).WithField("account_id", accountID).Error("failed to mark account needs_reauth")
		}
		return "", ErrNeedsReauth
	}

	refreshed, err := m.client.RefreshToken(ctx, creds)
	if err != nil {
		apiErr := Classify(err)
		if apiErr.Kind == KindAuth {
			if markErr := m.accounts.MarkNeedsReauth(ctx, accountID); markErr != nil {
				m.log.WithError(markErr).WithField("account_id", accountID).Error("failed to mark account needs_reauth")
			}
			return "", ErrNeedsReauth
		}
		return "", err
	}

	if err := m.accounts.UpdateTokens(ctx, accountID, userID, *refreshed); err != nil {
		return "", err
	}

	return refreshed.AccessToken, nil
}

func needsRefresh(expiry time.Time) bool {
	return time.Now().UTC().Add(refreshBuffer).After(expiry)
}
