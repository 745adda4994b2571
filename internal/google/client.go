// Package google wraps the Calendar v3 API with the sync engine's wire
// contract: dual sync-token/page-token pagination, watch-channel
// registration, and error classification into the taxonomy the rate/retry
// controller understands.
package google

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const eventsPageSize = 250

// Client defines the Google Calendar operations the sync engine depends on.
// The interface exists so engine and orchestrator tests can run against
// MockClient without network access.
type Client interface {
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*store.OAuthCredentials, error)
	RefreshToken(ctx context.Context, creds *store.OAuthCredentials) (*store.OAuthCredentials, error)
	ListCalendars(ctx context.Context, creds *store.OAuthCredentials) ([]*CalendarInfo, error)
	ListEvents(ctx context.Context, creds *store.OAuthCredentials, calendarID string, syncToken, pageToken *string) (*EventPage, error)
	Watch(ctx context.Context, creds *store.OAuthCredentials, calendarID, channelID, channelToken, webhookURL string) (*WatchChannel, error)
}

var _ Client = (*CalendarClient)(nil)

// CalendarInfo is one entry from the user's calendarList.
type CalendarInfo struct {
	ID         string
	Summary    string
	Color      string
	AccessRole string
	IsPrimary  bool
}

// EventPage is one page of the events.list feed, in either full-sync
// (no token, no time window) or incremental (sync-token) mode.
type EventPage struct {
	Events        []*calendar.Event
	NextPageToken string // non-empty: more pages remain
	NextSyncToken string // set only on the final page
}

// WatchChannel is the result of registering a push-notification channel.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// CalendarClient is the production Client backed by golang.org/x/oauth2 and
// google.golang.org/api/calendar/v3.
type CalendarClient struct {
	config      *oauth2.Config
	webhookPath string
}

// NewCalendarClient builds a client from the app's OAuth client credentials.
func NewCalendarClient(clientID, clientSecret, redirectURL string) *CalendarClient {
	return &CalendarClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     googleoauth.Endpoint,
		},
	}
}

func (c *CalendarClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *CalendarClient) ExchangeCode(ctx context.Context, code string) (*store.OAuthCredentials, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, Classify(err)
	}
	return credsFromToken(token), nil
}

func (c *CalendarClient) RefreshToken(ctx context.Context, creds *store.OAuthCredentials) (*store.OAuthCredentials, error) {
	src := c.config.TokenSource(ctx, tokenFromCreds(creds))
	newToken, err := src.Token()
	if err != nil {
		return nil, Classify(err)
	}
	return credsFromToken(newToken), nil
}

func (c *CalendarClient) ListCalendars(ctx context.Context, creds *store.OAuthCredentials) ([]*CalendarInfo, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	list, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, Classify(err)
	}

	out := make([]*CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, &CalendarInfo{
			ID:         item.Id,
			Summary:    item.Summary,
			Color:      item.BackgroundColor,
			AccessRole: item.AccessRole,
			IsPrimary:  item.Primary,
		})
	}
	return out, nil
}

// ListEvents fetches one page. Exactly one of syncToken or pageToken should
// be set by the caller on the first call of an incremental sync; on a full
// sync both start nil and the feed is driven by singleEvents=false &&
// showDeleted=true, per the wire contract.
func (c *CalendarClient) ListEvents(ctx context.Context, creds *store.OAuthCredentials, calendarID string, syncToken, pageToken *string) (*EventPage, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(url.PathEscape(calendarID)).
		Context(ctx).
		SingleEvents(false).
		ShowDeleted(true).
		MaxResults(eventsPageSize)

	if syncToken != nil {
		call = call.SyncToken(*syncToken)
	}
	if pageToken != nil {
		call = call.PageToken(*pageToken)
	}

	result, err := call.Do()
	if err != nil {
		return nil, Classify(err)
	}

	return &EventPage{
		Events:        result.Items,
		NextPageToken: result.NextPageToken,
		NextSyncToken: result.NextSyncToken,
	}, nil
}

// Watch registers a push-notification channel for calendarID. channelToken
// is echoed back by Google on every push as X-Goog-Channel-Token and is
// what the webhook dispatcher verifies inbound notifications against.
func (c *CalendarClient) Watch(ctx context.Context, creds *store.OAuthCredentials, calendarID, channelID, channelToken, webhookURL string) (*WatchChannel, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	channel := &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: webhookURL,
		Token:   channelToken,
	}

	result, err := svc.Events.Watch(url.PathEscape(calendarID), channel).Context(ctx).Do()
	if err != nil {
		return nil, Classify(err)
	}

	return &WatchChannel{
		ChannelID:  result.Id,
		ResourceID: result.ResourceId,
		Expiration: time.UnixMilli(result.Expiration),
	}, nil
}

func (c *CalendarClient) service(ctx context.Context, creds *store.OAuthCredentials) (*calendar.Service, error) {
	httpClient := c.config.Client(ctx, tokenFromCreds(creds))
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("building calendar service: %w", err)
	}
	return svc, nil
}

// NewChannelID generates a channel ID suitable for Watch.
func NewChannelID() string {
	return uuid.New().String()
}

func tokenFromCreds(creds *store.OAuthCredentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.Expiry,
	}
}

func credsFromToken(token *oauth2.Token) *store.OAuthCredentials {
	return &store.OAuthCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
}
