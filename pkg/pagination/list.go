package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"

	"github.com/Sternrassler/mensa-client/pkg/client"
	"github.com/Sternrassler/mensa-client/pkg/request"
)

// Done is returned by List.Next once no pages remain.
var Done = errors.New("no more pages")

// Fetcher fetches a single page through the cache.
// *client.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, ttl time.Duration) (string, request.Headers, error)
}

// List walks a paginated JSON endpoint whose pages are arrays of T.
// It follows the next link of each page while the page counters say more
// pages exist and the current page is not empty. A List is single-use and
// not safe for concurrent use.
type List[T any] struct {
	fetcher  Fetcher
	ttl      time.Duration
	nextPage string
	pending  bool
}

// New creates a list starting at url. Every page is fetched with ttl.
func New[T any](fetcher Fetcher, url string, ttl time.Duration) *List[T] {
	return &List[T]{
		fetcher:  fetcher,
		ttl:      ttl,
		nextPage: url,
		pending:  true,
	}
}

// Next fetches the pending page. It returns Done when the list is
// exhausted. After any other error the list is exhausted as well.
func (l *List[T]) Next(ctx context.Context) ([]T, error) {
	if !l.pending {
		return nil, Done
	}
	url := l.nextPage
	l.pending = false
	l.nextPage = ""

	text, headers, err := l.fetcher.Fetch(ctx, url, l.ttl)
	if err != nil {
		return nil, err
	}

	var batch []T
	if err := json.Unmarshal([]byte(text), &batch); err != nil {
		return nil, &client.DeserializeError{URL: url, Err: err}
	}

	// Providers answer overrun page numbers with empty lists
	if headers.HasMorePages() && len(batch) > 0 && headers.NextPage != nil {
		l.nextPage = *headers.NextPage
		l.pending = true
	}

	return batch, nil
}

// Exhausted reports whether Next would return Done.
func (l *List[T]) Exhausted() bool {
	return !l.pending
}

// All yields one batch per page. An error is yielded once as the last value.
func (l *List[T]) All(ctx context.Context) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		for {
			batch, err := l.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the list and concatenates all batches, stopping at the
// first error.
func (l *List[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for batch, err := range l.All(ctx) {
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

// Collect fetches every page starting at url and returns the flattened items.
func Collect[T any](ctx context.Context, fetcher Fetcher, url string, ttl time.Duration) ([]T, error) {
	return New[T](fetcher, url, ttl).Collect(ctx)
}
