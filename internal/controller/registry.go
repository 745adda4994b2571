// Package controller implements the rate and retry controls shared across
// every Google API call: a per-account concurrency cap, a per-account
// refresh-token lock, and the retry/backoff policy both of them sit behind.
package controller

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	// MaxConcurrentPerAccount bounds in-flight Google API calls per account.
	MaxConcurrentPerAccount = 3

	// softCap is the number of keyed entries the registry trims down to
	// once evictThreshold is crossed.
	softCap = 100
	// evictThreshold triggers a cleanup pass.
	evictThreshold = 150
)

// trackedSemaphore counts outstanding acquires so the LRU table can tell an
// idle account semaphore from one with in-flight calls.
type trackedSemaphore struct {
	sem        *semaphore.Weighted
outstanding int32
}

func newTrackedSemaphore() *trackedSemaphore {
	return &trackedSemaphore{sem: semaphore.NewWeighted(MaxConcurrentPerAccount)}
}

func (t *trackedSemaphore) Acquire(ctx context.Context) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt32(&t.outstanding, 1)
	return nil
}

func (t *trackedSemaphore) Release() {
	atomic.AddInt32(&t.outstanding, -1)
	t.sem.Release(1)
}

func (t *trackedSemaphore) active() bool {
	return atomic.LoadInt32(&t.outstanding) > 0
}

// trackedMutex is a mutex whose held state the LRU table can query without
// blocking on it.
type trackedMutex struct {
	mu   sync.Mutex
	held int32
}

func (t *trackedMutex) Lock() {
	t.mu.Lock()
	atomic.StoreInt32(&t.held, 1)
}

func (t *trackedMutex) Unlock() {
	atomic.StoreInt32(&t.held, 0)
	t.mu.Unlock()
}

func (t *trackedMutex) active() bool {
	return atomic.LoadInt32(&t.held) != 0
}

// Registry hands out per-account semaphores and refresh locks, evicting the
// least-recently-used entries once the table grows past evictThreshold so a
// long-running process with many distinct accounts doesn't grow it
// unboundedly. Entries currently in use are never evicted.
type Registry struct {
	mu         sync.Mutex
	semaphores *lruTable
	locks      *lruTable
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		semaphores: newLRUTable(),
		locks:      newLRUTable(),
	}
}

// AccountSemaphore returns the semaphore capping concurrent API calls for
// accountID, creating one on first use.
func (r *Registry) AccountSemaphore(accountID uuid.UUID) *trackedSemaphore {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.semaphores.get(accountID); ok {
		return v.(*trackedSemaphore)
	}

	sem := newTrackedSemaphore()
	r.semaphores.put(accountID, sem, sem.active)
	return sem
}

// RefreshLock returns the lock guarding token refresh for accountID,
// creating one on first use.
func (r *Registry) RefreshLock(accountID uuid.UUID) *trackedMutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.locks.get(accountID); ok {
		return v.(*trackedMutex)
	}

	lock := &trackedMutex{}
	r.locks.put(accountID, lock, lock.active)
	return lock
}

// lruTable is a map with access order tracked by a doubly linked list,
// trimmed to softCap once it exceeds evictThreshold. An entry's active
// predicate is consulted at eviction time and the entry is skipped if true.
type lruTable struct {
	items map[uuid.UUID]*list.Element
	order *list.List
}

type lruEntry struct {
	key    uuid.UUID
	value  any
	active func() bool
}

func newLRUTable() *lruTable {
	return &lruTable{
		items: make(map[uuid.UUID]*list.Element),
		order: list.New(),
	}
}

func (t *lruTable) get(key uuid.UUID) (any, bool) {
	el, ok := t.items[key]
	if !ok {
		return nil, false
	}
	t.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (t *lruTable) put(key uuid.UUID, value any, active func() bool) {
	el := t.order.PushFront(&lruEntry{key: key, value: value, active: active})
	t.items[key] = el

	if len(t.items) > evictThreshold {
		t.evictTo(softCap)
	}
}

// evictTo removes least-recently-used, inactive entries from the back of
// the list until at most target entries remain.
func (t *lruTable) evictTo(target int) {
	el := t.order.Back()
	for len(t.items) > target && el != nil {
		prev := el.Prev()
		entry := el.Value.(*lruEntry)
		if !entry.active() {
			t.order.Remove(el)
			delete(t.items, entry.key)
		}
		el = prev
	}
}
