package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/mensa-client/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int

	// Timeout per page fetch
	Timeout time.Duration

	// PageParam is the query parameter selecting a page
	PageParam string

	// MaxPages caps the page count trusted from X-Total-Pages. Longer
	// lists are walked sequentially along their next links.
	MaxPages int
}

// DefaultConfig returns a configuration polite enough for public APIs
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		PageParam:      "page",
		MaxPages:       1000,
	}
}

// BatchFetcher drains a paginated endpoint in parallel once the first page
// has revealed the total page count. Every page still goes through the
// Fetcher, so pages are cached individually.
type BatchFetcher struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher Fetcher, config Config) *BatchFetcher {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.PageParam == "" {
		config.PageParam = def.PageParam
	}
	if config.MaxPages <= 0 {
		config.MaxPages = def.MaxPages
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "batch-fetcher").Logger(),
	}
}

// FetchAll fetches every page of the list at startURL and returns the items
// in page order. Pages 2..last are requested in windows of MaxConcurrency by
// rewriting the page query parameter. The first empty page ends the walk
// and no further windows are started. The first error cancels outstanding
// requests and is returned.
func FetchAll[T any](ctx context.Context, bf *BatchFetcher, startURL string, ttl time.Duration) ([]T, error) {
	start := time.Now()

	text, headers, err := bf.fetcher.Fetch(ctx, startURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	var first []T
	if err := json.Unmarshal([]byte(text), &first); err != nil {
		return nil, &client.DeserializeError{URL: startURL, Err: err}
	}

	if !headers.HasMorePages() || len(first) == 0 {
		return first, nil
	}

	firstPage := 1
	if headers.ThisPage != nil {
		firstPage = *headers.ThisPage
	}
	lastPage := *headers.LastPage

	if lastPage-firstPage >= bf.config.MaxPages && headers.NextPage != nil {
		bf.logger.Warn().
			Str("url", startURL).
			Int("total_pages", lastPage).
			Int("max_pages", bf.config.MaxPages).
			Msg("Page count above limit, following next links")
		return walkRest(ctx, bf.fetcher, first, *headers.NextPage, ttl)
	}

	bf.logger.Info().
		Str("url", startURL).
		Int("total_pages", lastPage).
		Msg("Starting parallel page fetch")

	items := first
	fetched := 1
	window := bf.config.MaxConcurrency

	for next := firstPage + 1; next <= lastPage && fetched < bf.config.MaxPages; next += window {
		n := min(window, lastPage-next+1, bf.config.MaxPages-fetched)
		batches, err := fetchWindow[T](ctx, bf, startURL, next, n, ttl)
		if err != nil {
			return nil, err
		}

		for _, batch := range batches {
			if len(batch) == 0 {
				bf.logger.Debug().
					Str("url", startURL).
					Int("page", firstPage+fetched).
					Msg("Empty page, stopping")
				bf.logDone(startURL, len(items), fetched, start)
				return items, nil
			}
			items = append(items, batch...)
			fetched++
		}
	}

	if fetched >= bf.config.MaxPages && firstPage+fetched <= lastPage {
		bf.logger.Warn().
			Str("url", startURL).
			Int("total_pages", lastPage).
			Int("max_pages", bf.config.MaxPages).
			Msg("Page limit reached without next link, result truncated")
	}

	bf.logDone(startURL, len(items), fetched, start)
	return items, nil
}

// fetchWindow fetches n pages starting at page from concurrently.
func fetchWindow[T any](ctx context.Context, bf *BatchFetcher, startURL string, from, n int, ttl time.Duration) ([][]T, error) {
	urls := make([]string, n)
	for i := range urls {
		pageURL, err := withPage(startURL, bf.config.PageParam, from+i)
		if err != nil {
			return nil, err
		}
		urls[i] = pageURL
	}

	batches := make([][]T, n)
	g, gCtx := errgroup.WithContext(ctx)

	for i, pageURL := range urls {
		pageNum := from + i
		g.Go(func() error {
			pageCtx, cancel := context.WithTimeout(gCtx, bf.config.Timeout)
			defer cancel()

			body, _, err := bf.fetcher.Fetch(pageCtx, pageURL, ttl)
			if err != nil {
				bf.logger.Warn().
					Err(err).
					Int("page", pageNum).
					Msg("Page fetch failed")
				return fmt.Errorf("fetch page %d: %w", pageNum, err)
			}

			var batch []T
			if err := json.Unmarshal([]byte(body), &batch); err != nil {
				return &client.DeserializeError{URL: pageURL, Err: err}
			}

			// Each goroutine owns its slot
			batches[i] = batch
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// walkRest continues a list sequentially from nextURL.
func walkRest[T any](ctx context.Context, fetcher Fetcher, first []T, nextURL string, ttl time.Duration) ([]T, error) {
	rest, err := New[T](fetcher, nextURL, ttl).Collect(ctx)
	if err != nil {
		return nil, err
	}
	return append(first, rest...), nil
}

func (bf *BatchFetcher) logDone(startURL string, items, pages int, start time.Time) {
	bf.logger.Info().
		Str("url", startURL).
		Int("pages", pages).
		Int("items", items).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")
}

// withPage returns rawURL with param set to page.
func withPage(rawURL, param string, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
