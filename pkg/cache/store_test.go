package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testHeaders struct {
	ETag     *string `json:"etag,omitempty"`
	LastPage *int    `json:"last_page,omitempty"`
}

// fakeClock is a manually advanced clock with millisecond resolution.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clock *fakeClock) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		etag := "static"
		last := 3
		key := "https://openmensa.org/api/v2/canteens?page=1"

		if err := store.Write(ctx, key, testHeaders{ETag: &etag, LastPage: &last}, "This page works!"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		entry, err := store.Metadata(ctx, key)
		if err != nil {
			t.Fatalf("Metadata failed: %v", err)
		}
		if entry == nil {
			t.Fatal("Metadata returned nil entry after Write")
		}
		if entry.Key != key {
			t.Errorf("Key = %q, want %q", entry.Key, key)
		}
		if entry.Size != len("This page works!") {
			t.Errorf("Size = %d, want %d", entry.Size, len("This page works!"))
		}

		text, err := store.Read(ctx, entry)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if text != "This page works!" {
			t.Errorf("Read = %q, want %q", text, "This page works!")
		}

		var got testHeaders
		if err := entry.DecodeMetadata(&got); err != nil {
			t.Fatalf("DecodeMetadata failed: %v", err)
		}
		if got.ETag == nil || *got.ETag != "static" {
			t.Errorf("ETag = %v, want static", got.ETag)
		}
		if got.LastPage == nil || *got.LastPage != 3 {
			t.Errorf("LastPage = %v, want 3", got.LastPage)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		entry, err := store.Metadata(ctx, "https://example.org/nothing")
		if err != nil {
			t.Fatalf("Metadata failed: %v", err)
		}
		if entry != nil {
			t.Errorf("expected nil entry, got %+v", entry)
		}
	})

	t.Run("overwrite refreshes timestamp", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		key := "https://example.org/overwrite"

		if err := store.Write(ctx, key, testHeaders{}, "first"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		first, _ := store.Metadata(ctx, key)

		clock.Advance(5 * time.Second)
		if err := store.Write(ctx, key, testHeaders{}, "second"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		second, err := store.Metadata(ctx, key)
		if err != nil || second == nil {
			t.Fatalf("Metadata failed: %v", err)
		}

		if second.Time-first.Time != 5000 {
			t.Errorf("timestamp delta = %dms, want 5000ms", second.Time-first.Time)
		}
		text, err := store.Read(ctx, second)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if text != "second" {
			t.Errorf("Read = %q, want %q", text, "second")
		}
	})

	t.Run("clear and list", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		keys := []string{"https://example.org/a", "https://example.org/b", "https://example.org/c"}
		for _, key := range keys {
			if err := store.Write(ctx, key, testHeaders{}, "payload "+key); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}

		seen := map[string]bool{}
		for entry, err := range store.List(ctx) {
			if err != nil {
				t.Fatalf("List yielded error: %v", err)
			}
			seen[entry.Key] = true
		}
		for _, key := range keys {
			if !seen[key] {
				t.Errorf("List missing %q", key)
			}
		}

		if err := store.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		for entry, err := range store.List(ctx) {
			t.Errorf("List after Clear yielded %+v, %v", entry, err)
		}
		entry, err := store.Metadata(ctx, keys[0])
		if err != nil || entry != nil {
			t.Errorf("Metadata after Clear = %+v, %v; want nil, nil", entry, err)
		}
	})

	t.Run("list stops early", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		for _, key := range []string{"https://example.org/1", "https://example.org/2"} {
			if err := store.Write(ctx, key, testHeaders{}, "x"); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}
		count := 0
		for range store.List(ctx) {
			count++
			break
		}
		if count != 1 {
			t.Errorf("iterated %d entries, want 1", count)
		}
	})

	t.Run("unserializable metadata", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		err := store.Write(ctx, "https://example.org/bad", map[string]any{"f": func() {}}, "x")
		var writeErr *WriteError
		if !errors.As(err, &writeErr) {
			t.Fatalf("expected *WriteError, got %v", err)
		}
	})

	t.Run("read stale reference", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		_, err := store.Read(ctx, &Entry{Key: "https://example.org/gone", Integrity: integrityOf([]byte("gone"))})
		var readErr *ReadError
		if !errors.As(err, &readErr) {
			t.Fatalf("expected *ReadError, got %v", err)
		}
		if !errors.Is(err, ErrMissingContent) {
			t.Errorf("expected ErrMissingContent, got %v", err)
		}
	})
}
