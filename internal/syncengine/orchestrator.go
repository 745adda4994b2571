package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chronos-sync/core/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	maxCalendarsPerSync  = 20
	maxConcurrentCalendars = 5
	keepAliveInterval    = 15 * time.Second
	maxSyncDuration      = 300 * time.Second
	userRateLimitWindow  = 5 * time.Second
)

// ErrTooManyCalendars is returned when a sync request names more calendars
// than the orchestrator will fan out to at once.
var ErrTooManyCalendars = errors.New("too many calendars requested")

// ErrRateLimited is returned when a user retriggers a sync within
// userRateLimitWindow of their last one.
var ErrRateLimited = errors.New("sync started too recently for this user")

// Orchestrator fans a user's sync request out across per-calendar Engine
// workers and multiplexes their progress into one ordered stream.
type Orchestrator struct {
	engine    *Engine
	calendars *store.CalendarStore

	rateMu   sync.Mutex
	lastSync map[uuid.UUID]time.Time
}

func NewOrchestrator(engine *Engine, calendars *store.CalendarStore) *Orchestrator {
	return &Orchestrator{
		engine:    engine,
		calendars: calendars,
		lastSync:  make(map[uuid.UUID]time.Time),
	}
}

// SyncUser resolves the calendars to sync for userID, then starts the fan
// out and returns immediately with a channel of progress records. The
// channel is closed once every calendar has reported done, the wall-clock
// timeout fires, or ctx is cancelled.
func (o *Orchestrator) SyncUser(ctx context.Context, userID uuid.UUID, requested []uuid.UUID) (<-chan StreamRecord, error) {
	if len(requested) > maxCalendarsPerSync {
		return nil, ErrTooManyCalendars
	}

	if !o.checkRateLimit(userID) {
		return nil, ErrRateLimited
	}

	cals, err := o.resolveCalendars(ctx, userID, requested)
	if err != nil {
		return nil, err
	}
	if len(cals) > maxCalendarsPerSync {
		cals = cals[:maxCalendarsPerSync]
	}

	out := make(chan StreamRecord, 64)
	go o.run(ctx, userID, cals, out)
	return out, nil
}

func (o *Orchestrator) resolveCalendars(ctx context.Context, userID uuid.UUID, requested []uuid.UUID) ([]*store.Calendar, error) {
	if len(requested) == 0 {
		return o.calendars.ListForUser(ctx, userID)
	}
	return o.calendars.ListByIDs(ctx, userID, requested)
}

func (o *Orchestrator) checkRateLimit(userID uuid.UUID) bool {
	o.rateMu.Lock()
	defer o.rateMu.Unlock()

	now := time.Now()
	if last, ok := o.lastSync[userID]; ok && now.Sub(last) < userRateLimitWindow {
		return false
	}
	o.lastSync[userID] = now
	return true
}

func (o *Orchestrator) run(parent context.Context, userID uuid.UUID, cals []*store.Calendar, out chan<- StreamRecord) {
	defer close(out)

	ctx, cancel := context.WithTimeout(parent, maxSyncDuration)
	defer cancel()

	if len(cals) == 0 {
		emit(ctx, out, StreamRecord{Type: KindComplete, TotalEvents: 0, CalendarsSynced: 0})
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentCalendars)
	worker := make(chan StreamRecord, 256)

	var wg sync.WaitGroup
	for _, cal := range cals {
		wg.Add(1)
		go func(cal *store.Calendar) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			_ = o.engine.SyncCalendar(ctx, userID, cal.AccountID, cal, worker)
		}(cal)
	}
	go func() {
		wg.Wait()
		close(worker)
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	totalEvents := 0
	calendarsDone := 0

	for {
		select {
		case rec, ok := <-worker:
			if !ok {
				emit(ctx, out, StreamRecord{Type: KindComplete, TotalEvents: totalEvents, CalendarsSynced: calendarsDone})
				return
			}
			if rec.Type == KindEvents {
				totalEvents += len(rec.Events)
			}
			if rec.Type == KindCalendarDone {
				calendarsDone++
			}
			emit(ctx, out, rec)
			keepAlive.Reset(keepAliveInterval)

			if calendarsDone >= len(cals) {
				emit(ctx, out, StreamRecord{Type: KindComplete, TotalEvents: totalEvents, CalendarsSynced: calendarsDone})
				return
			}

		case <-keepAlive.C:
			emit(ctx, out, StreamRecord{Type: KindKeepAlive})

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				emit(parent, out, StreamRecord{Type: KindSyncError, Code: "408", Message: "Sync timed out"})
			}
			return
		}
	}
}
