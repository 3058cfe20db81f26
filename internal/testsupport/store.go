package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/queue"
)

// Clock is a manually advanced time source for stores and components under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRecord inserts a queued record for brand and returns it.
func NewRecord(t testing.TB, store *queue.Store, brand, contentRef string) *queue.Record {
	t.Helper()

	ctx := context.Background()
	id, err := store.Create(ctx, &queue.Record{Brand: brand, ContentRef: contentRef})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	return rec
}
