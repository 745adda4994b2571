package controller

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRegistry_ReturnsSameSemaphoreForSameAccount(t *testing.T) {
	r := NewRegistry()
	accountID := uuid.New()

	a := r.AccountSemaphore(accountID)
	b := r.AccountSemaphore(accountID)
	if a != b {
		t.Error("AccountSemaphore() should return the same instance for the same account")
	}
}

func TestRegistry_SemaphoreCapsConcurrency(t *testing.T) {
	r := NewRegistry()
	accountID := uuid.New()
	sem := r.AccountSemaphore(accountID)
	ctx := context.Background()

	for i := 0; i < MaxConcurrentPerAccount; i++ {
		if err := sem.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	acquired := make(chan struct{})
	go func() {
		sem.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Error("fourth Acquire() should block while capacity is exhausted")
	default:
	}

	sem.Release()
	<-acquired
}

func TestRegistry_EvictsInactiveEntriesPastThreshold(t *testing.T) {
	r := NewRegistry()

	var held uuid.UUID
	for i := 0; i < evictThreshold+10; i++ {
		id := uuid.New()
		if i == 0 {
			held = id
		}
		sem := r.AccountSemaphore(id)
		if id == held {
			sem.Acquire(context.Background())
		}
	}

	// The sweep fires on insert evictThreshold+1 and trims to softCap (the
	// held entry included); the remaining 9 inserts are added on top.
	if len(r.semaphores.items) > softCap+9 {
		t.Errorf("table size = %d after eviction sweep, want <= %d", len(r.semaphores.items), softCap+9)
	}

	if _, ok := r.semaphores.get(held); !ok {
		t.Error("an active (in-use) semaphore should never be evicted")
	}
}
