package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chronos-sync/core/internal/store"
	"google.golang.org/api/calendar/v3"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	mu sync.Mutex

	AuthURLValue string

	ExchangeCredentials *store.OAuthCredentials
	ExchangeError       error

	RefreshCredentials *store.OAuthCredentials
	RefreshError       error

	Calendars      []*CalendarInfo
	CalendarsError error

	// PagesByCalendar maps calendarID to the sequence of pages ListEvents
	// returns for successive calls; each call pops the next entry.
	PagesByCalendar map[string][]*EventPage
	ListEventsError error

	WatchChannel *WatchChannel
	WatchError   error

	ExchangeCalls []string
	RefreshCalls  int
	ListCalls     int
	ListEventsCalls []ListEventsCall
	WatchCalls    []WatchCall
}

// ListEventsCall records a call to ListEvents.
type ListEventsCall struct {
	CalendarID string
	SyncToken  *string
	PageToken  *string
}

// WatchCall records a call to Watch.
type WatchCall struct {
	CalendarID   string
	ChannelID    string
	ChannelToken string
}

func NewMockClient() *MockClient {
	return &MockClient{
		AuthURLValue:    "https://accounts.google.com/mock-auth",
		PagesByCalendar: make(map[string][]*EventPage),
		ExchangeCredentials: &store.OAuthCredentials{
			AccessToken:  "mock-access-token",
			RefreshToken: "mock-refresh-token",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		},
		RefreshCredentials: &store.OAuthCredentials{
			AccessToken:  "mock-refreshed-access-token",
			RefreshToken: "mock-refresh-token",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		},
		WatchChannel: &WatchChannel{
			ChannelID:  "mock-channel",
			ResourceID: "mock-resource",
			Expiration: time.Now().Add(24 * time.Hour),
		},
	}
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) AuthURL(state string) string {
	return m.AuthURLValue + "?state=" + state
}

func (m *MockClient) ExchangeCode(ctx context.Context, code string) (*store.OAuthCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExchangeCalls = append(m.ExchangeCalls, code)
	if m.ExchangeError != nil {
		return nil, m.ExchangeError
	}
	return m.ExchangeCredentials, nil
}

func (m *MockClient) RefreshToken(ctx context.Context, creds *store.OAuthCredentials) (*store.OAuthCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefreshCalls++
	if m.RefreshError != nil {
		return nil, m.RefreshError
	}
	return m.RefreshCredentials, nil
}

func (m *MockClient) ListCalendars(ctx context.Context, creds *store.OAuthCredentials) ([]*CalendarInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++
	if m.CalendarsError != nil {
		return nil, m.CalendarsError
	}
	return m.Calendars, nil
}

func (m *MockClient) ListEvents(ctx context.Context, creds *store.OAuthCredentials, calendarID string, syncToken, pageToken *string) (*EventPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListEventsCalls = append(m.ListEventsCalls, ListEventsCall{CalendarID: calendarID, SyncToken: syncToken, PageToken: pageToken})

	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}

	pages := m.PagesByCalendar[calendarID]
	if len(pages) == 0 {
		return &EventPage{Events: []*calendar.Event{}, NextSyncToken: fmt.Sprintf("mock-sync-token-%s", calendarID)}, nil
	}

	page := pages[0]
	m.PagesByCalendar[calendarID] = pages[1:]
	return page, nil
}

func (m *MockClient) Watch(ctx context.Context, creds *store.OAuthCredentials, calendarID, channelID, channelToken, webhookURL string) (*WatchChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WatchCalls = append(m.WatchCalls, WatchCall{CalendarID: calendarID, ChannelID: channelID, ChannelToken: channelToken})
	if m.WatchError != nil {
		return nil, m.WatchError
	}
	return m.WatchChannel, nil
}

// QueuePage appends a page to be returned by the next ListEvents call for
// calendarID.
func (m *MockClient) QueuePage(calendarID string, page *EventPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PagesByCalendar[calendarID] = append(m.PagesByCalendar[calendarID], page)
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExchangeCalls = nil
	m.RefreshCalls = 0
	m.ListCalls = 0
	m.ListEventsCalls = nil
	m.WatchCalls = nil
}
