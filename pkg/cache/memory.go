package cache

import (
	"context"
	"iter"
	"sort"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"
)

type memoryItem struct {
	entry   Entry
	payload string
}

// MemoryStore keeps entries in process memory. It never expires anything
// and is meant for tests and one-shot runs.
type MemoryStore struct {
	cache *gocache.Cache
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
		now:   o.now,
	}
}

// Write implements Store.
func (s *MemoryStore) Write(ctx context.Context, key string, metadata any, payload string) error {
	entry, err := newEntry(key, metadata, payload, s.now())
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return err
	}
	s.cache.Set(key, memoryItem{entry: *entry, payload: payload}, gocache.NoExpiration)
	recordWrite("memory", entry.Size)
	return nil
}

// Read implements Store.
func (s *MemoryStore) Read(ctx context.Context, entry *Entry) (string, error) {
	if entry == nil {
		return "", &ReadError{Op: "content", Err: ErrMissingContent}
	}
	item, ok := s.item(entry.Key)
	if !ok {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &ReadError{Key: entry.Key, Op: "content", Err: ErrMissingContent}
	}
	if item.entry.Integrity != entry.Integrity {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &ReadError{Key: entry.Key, Op: "content", Err: ErrCorrupted}
	}
	if !utf8.ValidString(item.payload) {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &DecodingError{Key: entry.Key}
	}
	return item.payload, nil
}

// Metadata implements Store.
func (s *MemoryStore) Metadata(ctx context.Context, key string) (*Entry, error) {
	item, ok := s.item(key)
	if !ok {
		return nil, nil
	}
	entry := item.entry
	return &entry, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.cache.Flush()
	return nil
}

// List implements Store. It iterates a snapshot in key order.
func (s *MemoryStore) List(ctx context.Context) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		items := s.cache.Items()
		keys := make([]string, 0, len(items))
		for key := range items {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			item, ok := items[key].Object.(memoryItem)
			if !ok {
				continue
			}
			entry := item.entry
			if !yield(&entry, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

func (s *MemoryStore) item(key string) (memoryItem, bool) {
	v, found := s.cache.Get(key)
	if !found {
		return memoryItem{}, false
	}
	item, ok := v.(memoryItem)
	return item, ok
}
