// Package cache provides the persistent store behind the fetch-through client.
//
// The store maps a normalized URL to a UTF-8 payload plus an opaque, JSON
// encoded metadata value and a write timestamp. Entries are never expired by
// the store; staleness is decided by the caller with IsFresh and only ever
// leads to revalidation. Clear is the only way data is removed.
//
// # Backends
//
//   - DiskStore: content-addressable files under a local directory (default)
//   - RedisStore: the same layout in Redis, for caches shared between processes
//   - MemoryStore: in-process, for tests
//
// # Basic Usage
//
//	store, err := cache.NewDiskStore(filepath.Join(userCacheDir, "mensa"))
//	if err != nil {
//		return err
//	}
//
//	key, err := cache.NormalizeURL("https://openmensa.org/api/v2/canteens?page=2")
//	if err != nil {
//		return err
//	}
//
//	if err := store.Write(ctx, key, headers, body); err != nil {
//		return err
//	}
//
//	entry, err := store.Metadata(ctx, key)
//	if err == nil && entry != nil && cache.IsFresh(entry, time.Hour, time.Now()) {
//		body, err = store.Read(ctx, entry)
//	}
//
// # Errors
//
//   - *ReadError: the entry or payload could not be loaded (I/O, corruption)
//   - *DecodingError: the payload was loaded but is not valid UTF-8
//   - *WriteError: the entry could not be persisted (I/O, serialization)
//
// # Metrics
//
//   - mensa_cache_writes_total{backend}
//   - mensa_cache_written_bytes_total{backend}
//   - mensa_cache_errors_total{operation}
package cache
