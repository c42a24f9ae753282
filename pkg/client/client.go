// Package client provides the fetch-through cache: every request is answered
// from the cache store when fresh, revalidated with a conditional GET when
// stale and fetched and persisted when missing.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/Sternrassler/mensa-client/pkg/cache"
	"github.com/Sternrassler/mensa-client/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mensa_cache_lookups_total",
		Help: "Total cache probes by result (hit, stale, miss, error)",
	}, []string{"result"})

	notModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mensa_not_modified_total",
		Help: "Total 304 Not Modified responses served from cache",
	})

	revalidationFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mensa_revalidation_fallbacks_total",
		Help: "Total failed revalidations retried as unconditional requests",
	})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mensa_upstream_errors_total",
		Help: "Total upstream status errors by class",
	}, []string{"class"})
)

// Client is the fetch-through cache.
// It is safe for concurrent use as long as its Store and Requester are.
// Concurrent fetches of the same URL are not deduplicated.
type Client struct {
	store     cache.Store
	requester request.Requester
	now       func() time.Time
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Store persists fetched payloads (required)
	Store cache.Store

	// Requester performs the HTTP GETs (required)
	Requester request.Requester

	// Logger defaults to the global logger with component "fetch-client"
	Logger *zerolog.Logger

	// Clock used for freshness decisions (default: time.Now)
	Clock func() time.Time
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Requester == nil {
		return nil, ErrRequesterRequired
	}

	logger := log.With().Str("component", "fetch-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Client{
		store:     cfg.Store,
		requester: cfg.Requester,
		now:       now,
		logger:    logger,
	}, nil
}

// Probe classifies the cache entry for rawURL without touching the network.
func (c *Client) Probe(ctx context.Context, rawURL string, ttl time.Duration) (CacheResult, error) {
	key, err := cache.NormalizeURL(rawURL)
	if err != nil {
		return CacheResult{}, err
	}
	return c.probe(ctx, key, ttl)
}

func (c *Client) probe(ctx context.Context, key string, ttl time.Duration) (CacheResult, error) {
	entry, err := c.store.Metadata(ctx, key)
	if err != nil {
		return CacheResult{}, fmt.Errorf("probe %s: %w", key, err)
	}
	if entry == nil {
		return CacheResult{State: StateMiss}, nil
	}

	var headers request.Headers
	if err := entry.DecodeMetadata(&headers); err != nil {
		return CacheResult{}, &cache.ReadError{Key: key, Op: "decode metadata", Err: err}
	}

	if !cache.IsFresh(entry, ttl, c.now()) {
		return CacheResult{State: StateStale, Headers: headers, Entry: entry}, nil
	}

	text, err := c.store.Read(ctx, entry)
	if err != nil {
		return CacheResult{}, fmt.Errorf("probe %s: %w", key, err)
	}
	return CacheResult{State: StateHit, Text: text, Headers: headers, Entry: entry}, nil
}

// Fetch returns the body and headers for rawURL, consulting the cache first.
// Entries younger than ttl are served without a request.
func (c *Client) Fetch(ctx context.Context, rawURL string, ttl time.Duration) (string, request.Headers, error) {
	key, err := cache.NormalizeURL(rawURL)
	if err != nil {
		return "", request.Headers{}, err
	}

	result, err := c.probe(ctx, key, ttl)
	if err != nil {
		// A broken cache only forfeits its benefit
		cacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache probe failed, treating as miss")
		result = CacheResult{State: StateMiss}
	} else {
		cacheLookupsTotal.WithLabelValues(result.State.String()).Inc()
	}

	switch result.State {
	case StateHit:
		c.logger.Debug().Str("url", rawURL).Msg("Cache hit")
		return result.Text, result.Headers, nil

	case StateStale:
		c.logger.Info().
			Str("url", rawURL).
			Str("etag", result.Headers.ETagValue()).
			Msg("Cache entry stale, revalidating")
		return c.revalidate(ctx, rawURL, key, result)

	default:
		c.logger.Info().Str("url", rawURL).Msg("Cache miss, fetching")
		return c.fetchFresh(ctx, rawURL, key)
	}
}

// fetchFresh performs an unconditional GET and persists a successful answer.
func (c *Client) fetchFresh(ctx context.Context, rawURL, key string) (string, request.Headers, error) {
	resp, err := c.requester.Get(ctx, rawURL, "")
	if err != nil {
		return "", request.Headers{}, err
	}
	return c.storeResponse(ctx, key, resp)
}

// storeResponse persists a 2xx response. Write failures are returned.
func (c *Client) storeResponse(ctx context.Context, key string, resp *request.Response) (string, request.Headers, error) {
	if !resp.IsSuccess() {
		statusErr := &StatusError{URL: resp.URL, Status: resp.Status}
		upstreamErrorsTotal.WithLabelValues(string(statusErr.Class())).Inc()
		return "", request.Headers{}, statusErr
	}

	if err := c.store.Write(ctx, key, resp.Headers, resp.Body); err != nil {
		return "", request.Headers{}, fmt.Errorf("persist %s: %w", resp.URL, err)
	}

	c.logger.Debug().
		Str("url", resp.URL).
		Int("size", len(resp.Body)).
		Msg("Cached response")

	return resp.Body, resp.Headers, nil
}

// revalidate sends a conditional GET for a stale entry. Anything other than
// 304 or 2xx, including transport errors, gets exactly one unconditional retry.
func (c *Client) revalidate(ctx context.Context, rawURL, key string, stale CacheResult) (string, request.Headers, error) {
	resp, err := c.requester.Get(ctx, rawURL, stale.Headers.ETagValue())
	if err != nil {
		return c.fallback(ctx, rawURL, key, err)
	}

	switch {
	case resp.IsNotModified():
		text, err := c.store.Read(ctx, stale.Entry)
		if err != nil {
			return c.fallback(ctx, rawURL, key, err)
		}
		notModifiedTotal.Inc()

		// Refreshing the timestamp is best effort; the cached text stays valid
		if err := c.store.Write(ctx, key, resp.Headers, text); err != nil {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to refresh cache entry after 304")
		}

		c.logger.Debug().Str("url", rawURL).Msg("304 Not Modified, using cache")
		return text, resp.Headers, nil

	case resp.IsSuccess():
		return c.storeResponse(ctx, key, resp)

	default:
		return c.fallback(ctx, rawURL, key, &StatusError{URL: resp.URL, Status: resp.Status})
	}
}

func (c *Client) fallback(ctx context.Context, rawURL, key string, cause error) (string, request.Headers, error) {
	revalidationFallbacksTotal.Inc()
	c.logger.Info().
		Err(cause).
		Str("url", rawURL).
		Msg("Revalidation failed, retrying unconditionally")
	return c.fetchFresh(ctx, rawURL, key)
}

// ClearCache removes every cached entry.
func (c *Client) ClearCache(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	c.logger.Info().Msg("Cache cleared")
	return nil
}

// Entries lists the cached entries.
func (c *Client) Entries(ctx context.Context) iter.Seq2[*cache.Entry, error] {
	return c.store.List(ctx)
}

// FetchJSON fetches rawURL through c and decodes the body into T.
func FetchJSON[T any](ctx context.Context, c *Client, rawURL string, ttl time.Duration) (T, error) {
	var out T
	text, _, err := c.Fetch(ctx, rawURL, ttl)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, &DeserializeError{URL: rawURL, Err: err}
	}
	return out, nil
}
