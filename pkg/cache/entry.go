package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"iter"
	"math"
	"time"
)

// Forever is a TTL under which every entry is considered fresh.
const Forever time.Duration = math.MaxInt64

// Entry describes a cached payload without holding the payload itself.
// It is what Metadata and List hand out and what Read consumes.
type Entry struct {
	// Key is the normalized URL the payload was stored under
	Key string `json:"key"`

	// Integrity identifies the payload content ("sha256-<hex>")
	Integrity string `json:"integrity"`

	// Time is the write timestamp in milliseconds since the Unix epoch
	Time int64 `json:"time"`

	// Size is the payload length in bytes
	Size int `json:"size"`

	// Metadata is the opaque value attached on write
	Metadata json.RawMessage `json:"metadata"`
}

// WrittenAt returns the write timestamp of the entry.
func (e *Entry) WrittenAt() time.Time {
	return time.UnixMilli(e.Time)
}

// Age returns how long ago the entry was written, relative to now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt())
}

// DecodeMetadata unmarshals the attached metadata into v.
func (e *Entry) DecodeMetadata(v any) error {
	if len(e.Metadata) == 0 {
		return nil
	}
	return json.Unmarshal(e.Metadata, v)
}

// IsFresh reports whether the entry is younger than ttl at the given instant.
// A ttl of zero (or less) is always stale, a ttl of Forever always fresh.
func IsFresh(entry *Entry, ttl time.Duration, now time.Time) bool {
	if entry == nil || ttl <= 0 {
		return false
	}
	if ttl >= Forever {
		return true
	}
	return entry.Age(now) < ttl
}

// Store is implemented by every cache backend.
//
// Implementations overwrite on Write and refresh the entry timestamp; they
// never expire entries on their own. Only Clear removes data.
type Store interface {
	// Write persists payload under key with metadata attached.
	Write(ctx context.Context, key string, metadata any, payload string) error

	// Read returns the payload an entry refers to.
	Read(ctx context.Context, entry *Entry) (string, error)

	// Metadata looks up the entry for key. It returns nil, nil if none exists.
	Metadata(ctx context.Context, key string) (*Entry, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// List yields every entry once. The sequence is lazy and single-use.
	List(ctx context.Context) iter.Seq2[*Entry, error]
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp written entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newEntry assembles the entry for a write.
func newEntry(key string, metadata any, payload string, now time.Time) (*Entry, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, &WriteError{Key: key, Op: "serialize metadata", Err: err}
	}
	return &Entry{
		Key:       key,
		Integrity: integrityOf([]byte(payload)),
		Time:      now.UnixMilli(),
		Size:      len(payload),
		Metadata:  raw,
	}, nil
}

func integrityOf(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256-" + hex.EncodeToString(sum[:])
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
