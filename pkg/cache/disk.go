package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	indexDir   = "index"
	contentDir = "content"
	indexExt   = ".json"
)

// DiskStore is a content-addressable store on the local filesystem.
//
// Layout:
//
//	<dir>/index/<sha256(key)>.json   entry (key, integrity, time, size, metadata)
//	<dir>/content/<sha256(payload)>  raw payload bytes
//
// Both files are written to a temporary name first and renamed into place.
//
// Overwriting a key with a different payload leaves the previous content
// file in place; an Entry obtained before the overwrite can still be Read.
// Unreferenced content is only reclaimed by Clear.
type DiskStore struct {
	dir string
	now func() time.Time

	mu sync.RWMutex
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates a store rooted at dir, creating it if needed.
func NewDiskStore(dir string, opts ...Option) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	for _, sub := range []string{indexDir, contentDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	o := buildOptions(opts)
	return &DiskStore{dir: dir, now: o.now}, nil
}

// Dir returns the cache root directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Write implements Store.
func (s *DiskStore) Write(ctx context.Context, key string, metadata any, payload string) error {
	entry, err := newEntry(key, metadata, payload, s.now())
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return err
	}
	indexData, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return &WriteError{Key: key, Op: "serialize entry", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.contentPath(entry.Integrity), []byte(payload)); err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return &WriteError{Key: key, Op: "write content", Err: err}
	}
	if err := writeAtomic(s.indexPath(key), indexData); err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return &WriteError{Key: key, Op: "write index", Err: err}
	}

	recordWrite("disk", entry.Size)
	return nil
}

// Read implements Store.
func (s *DiskStore) Read(ctx context.Context, entry *Entry) (string, error) {
	if entry == nil {
		return "", &ReadError{Op: "content", Err: ErrMissingContent}
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.contentPath(entry.Integrity))
	s.mu.RUnlock()

	if err != nil {
		CacheErrors.WithLabelValues("read").Inc()
		if os.IsNotExist(err) {
			return "", &ReadError{Key: entry.Key, Op: "content", Err: ErrMissingContent}
		}
		return "", &ReadError{Key: entry.Key, Op: "content", Err: err}
	}
	if integrityOf(data) != entry.Integrity {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &ReadError{Key: entry.Key, Op: "content", Err: ErrCorrupted}
	}
	if !utf8.Valid(data) {
		CacheErrors.WithLabelValues("read").Inc()
		return "", &DecodingError{Key: entry.Key}
	}

	return string(data), nil
}

// Metadata implements Store.
func (s *DiskStore) Metadata(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := readIndex(s.indexPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		CacheErrors.WithLabelValues("metadata").Inc()
		return nil, &ReadError{Key: key, Op: "metadata", Err: err}
	}
	return entry, nil
}

// Clear implements Store.
func (s *DiskStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range []string{indexDir, contentDir} {
		path := filepath.Join(s.dir, sub)
		if err := os.RemoveAll(path); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("clear %s: %w", sub, err)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("recreate %s: %w", sub, err)
		}
	}
	return nil
}

// List implements Store. Index files are read one at a time as the
// sequence is consumed.
func (s *DiskStore) List(ctx context.Context) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		s.mu.RLock()
		dirEntries, err := os.ReadDir(filepath.Join(s.dir, indexDir))
		s.mu.RUnlock()
		if err != nil {
			CacheErrors.WithLabelValues("list").Inc()
			yield(nil, &ReadError{Op: "list", Err: err})
			return
		}

		for _, de := range dirEntries {
			if de.IsDir() || filepath.Ext(de.Name()) != indexExt {
				continue
			}
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}

			s.mu.RLock()
			entry, err := readIndex(filepath.Join(s.dir, indexDir, de.Name()))
			s.mu.RUnlock()
			if err != nil {
				if os.IsNotExist(err) {
					// removed by a concurrent clear
					continue
				}
				CacheErrors.WithLabelValues("list").Inc()
				err = &ReadError{Key: strings.TrimSuffix(de.Name(), indexExt), Op: "list", Err: err}
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}

func (s *DiskStore) indexPath(key string) string {
	return filepath.Join(s.dir, indexDir, hashKey(key)+indexExt)
}

func (s *DiskStore) contentPath(integrity string) string {
	return filepath.Join(s.dir, contentDir, strings.TrimPrefix(integrity, "sha256-"))
}

func readIndex(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// writeAtomic writes data to a temporary sibling and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
