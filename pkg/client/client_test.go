package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/mensa-client/internal/testutil"
	"github.com/Sternrassler/mensa-client/pkg/cache"
	"github.com/Sternrassler/mensa-client/pkg/request"
	"github.com/rs/zerolog"
)

var errInjected = errors.New("injected failure")

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

type call struct {
	url  string
	etag string
}

type step struct {
	resp *request.Response
	err  error
}

// scriptedRequester answers requests from a fixed script and records them.
type scriptedRequester struct {
	t     *testing.T
	mu    sync.Mutex
	steps []step
	calls []call
}

func (r *scriptedRequester) Get(ctx context.Context, url string, etag string) (*request.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call{url: url, etag: etag})
	if len(r.steps) == 0 {
		r.t.Errorf("unexpected request %d to %s", len(r.calls), url)
		return nil, &request.TransportError{URL: url, Err: errors.New("script exhausted")}
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	resp := *s.resp
	resp.URL = url
	return &resp, nil
}

func (r *scriptedRequester) push(steps ...step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, steps...)
}

func (r *scriptedRequester) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func ok(body, etag string) step {
	h := request.Headers{}
	if etag != "" {
		h.ETag = &etag
	}
	return step{resp: &request.Response{Status: 200, Headers: h, Body: body}}
}

func status(code int) step {
	return step{resp: &request.Response{Status: code}}
}

func notModified(etag string) step {
	s := status(304)
	if etag != "" {
		s.resp.Headers.ETag = &etag
	}
	return s
}

func transportFailure() step {
	return step{err: &request.TransportError{URL: "scripted", Err: errors.New("connection refused")}}
}

// flakyStore wraps a store and fails selected operations on demand.
type flakyStore struct {
	cache.Store
	mu           sync.Mutex
	failMetadata bool
	failRead     bool
	failWrite    bool
	writes       int
}

func (s *flakyStore) set(fn func(*flakyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *flakyStore) Metadata(ctx context.Context, key string) (*cache.Entry, error) {
	s.mu.Lock()
	fail := s.failMetadata
	s.mu.Unlock()
	if fail {
		return nil, &cache.ReadError{Key: key, Op: "read index", Err: errInjected}
	}
	return s.Store.Metadata(ctx, key)
}

func (s *flakyStore) Read(ctx context.Context, entry *cache.Entry) (string, error) {
	s.mu.Lock()
	fail := s.failRead
	s.mu.Unlock()
	if fail {
		return "", &cache.ReadError{Key: entry.Key, Op: "read content", Err: errInjected}
	}
	return s.Store.Read(ctx, entry)
}

func (s *flakyStore) Write(ctx context.Context, key string, metadata any, payload string) error {
	s.mu.Lock()
	s.writes++
	fail := s.failWrite
	s.mu.Unlock()
	if fail {
		return &cache.WriteError{Key: key, Op: "write content", Err: errInjected}
	}
	return s.Store.Write(ctx, key, metadata, payload)
}

func (s *flakyStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fixture struct {
	client    *Client
	clock     *fakeClock
	store     *flakyStore
	requester *scriptedRequester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := &flakyStore{Store: cache.NewMemoryStore(cache.WithClock(clock.Now))}
	requester := &scriptedRequester{t: t}
	logger := zerolog.Nop()

	c, err := New(Config{Store: store, Requester: requester, Logger: &logger, Clock: clock.Now})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{client: c, clock: clock, store: store, requester: requester}
}

const testURL = "https://openmensa.org/api/v2/canteens/1"

// populate caches body under testURL and makes it stale for a one hour TTL.
func (f *fixture) populateStale(t *testing.T, body, etag string) {
	t.Helper()
	f.requester.push(ok(body, etag))
	if _, _, err := f.client.Fetch(context.Background(), testURL, time.Hour); err != nil {
		t.Fatalf("initial Fetch failed: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
}

func TestNew_Validation(t *testing.T) {
	store := cache.NewMemoryStore()
	requester := &scriptedRequester{t: t}

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{name: "valid config", config: Config{Store: store, Requester: requester}},
		{name: "missing store", config: Config{Requester: requester}, wantErr: ErrStoreRequired},
		{name: "missing requester", config: Config{Store: store}, wantErr: ErrRequesterRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && c == nil {
				t.Error("New() returned nil client")
			}
		})
	}
}

// TestFetch_Scenario runs the basic cache lifecycle against a real HTTP server.
func TestFetch_Scenario(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetHandler("/test", testutil.NewConditionalHandler("static", "This page works!"))

	logger := zerolog.Nop()
	c, err := New(Config{
		Store:     cache.NewMemoryStore(),
		Requester: request.NewHTTPRequester(request.DefaultConfig()),
		Logger:    &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	url := mock.URL() + "/test"

	text, headers, err := c.Fetch(ctx, url, cache.Forever)
	if err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	if text != "This page works!" {
		t.Errorf("text = %q, want %q", text, "This page works!")
	}
	if headers.ETagValue() != "static" {
		t.Errorf("etag = %q, want static", headers.ETagValue())
	}
	if mock.RequestCount() != 1 {
		t.Fatalf("RequestCount = %d, want 1", mock.RequestCount())
	}

	again, _, err := c.Fetch(ctx, url, cache.Forever)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if again != text {
		t.Errorf("cached text = %q, want %q", again, text)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d after cached fetch, want 1", mock.RequestCount())
	}

	result, err := c.Probe(ctx, url, 0)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.State != StateStale {
		t.Errorf("State = %v with zero TTL, want stale", result.State)
	}
}

func TestFetch_MissThenHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.client.Probe(ctx, testURL, cache.Forever)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.State != StateMiss {
		t.Fatalf("State = %v, want miss", result.State)
	}

	f.requester.push(ok(`{"id":1}`, "v1"))
	if _, _, err := f.client.Fetch(ctx, testURL, cache.Forever); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	result, err = f.client.Probe(ctx, testURL, cache.Forever)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.State != StateHit {
		t.Fatalf("State = %v, want hit", result.State)
	}
	if result.Text != `{"id":1}` {
		t.Errorf("Text = %q, want %q", result.Text, `{"id":1}`)
	}
	if result.Headers.ETagValue() != "v1" {
		t.Errorf("ETag = %q, want v1", result.Headers.ETagValue())
	}
}

func TestFetch_KeyIsNormalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.requester.push(ok("[]", ""))
	if _, _, err := f.client.Fetch(ctx, "https://openmensa.org/api/v2/canteens?page=2&limit=5", cache.Forever); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.client.Fetch(ctx, "https://openmensa.org/api/v2/canteens?limit=5&page=2", cache.Forever); err != nil {
		t.Fatal(err)
	}
	if n := len(f.requester.Calls()); n != 1 {
		t.Errorf("requests = %d, want 1 for reordered query", n)
	}
}

func TestFetch_StaleNotModified(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetHandler("/canteens/1", testutil.NewConditionalHandler("static", `{"id":1}`))

	clock := newFakeClock()
	logger := zerolog.Nop()
	c, err := New(Config{
		Store:     cache.NewMemoryStore(cache.WithClock(clock.Now)),
		Requester: request.NewHTTPRequester(request.DefaultConfig()),
		Logger:    &logger,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	url := mock.URL() + "/canteens/1"

	if _, _, err := c.Fetch(ctx, url, time.Hour); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)

	result, err := c.Probe(ctx, url, time.Hour)
	if err != nil || result.State != StateStale {
		t.Fatalf("Probe = %v, %v; want stale", result.State, err)
	}

	text, _, err := c.Fetch(ctx, url, time.Hour)
	if err != nil {
		t.Fatalf("revalidating Fetch failed: %v", err)
	}
	if text != `{"id":1}` {
		t.Errorf("text = %q, want cached payload", text)
	}
	if mock.ConditionalCount() != 1 {
		t.Errorf("ConditionalCount = %d, want 1", mock.ConditionalCount())
	}
	if got := mock.LastRequestHeader().Get("If-None-Match"); got != "static" {
		t.Errorf("If-None-Match = %q, want static", got)
	}

	// Freshness window was reset
	result, err = c.Probe(ctx, url, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateHit {
		t.Errorf("State after 304 = %v, want hit", result.State)
	}
	if result.Text != `{"id":1}` {
		t.Errorf("Text after 304 = %q", result.Text)
	}
}

func TestFetch_StaleNotModifiedUsesNewHeaders(t *testing.T) {
	f := newFixture(t)
	f.populateStale(t, "body", "old")

	f.requester.push(notModified("new"))
	text, headers, err := f.client.Fetch(context.Background(), testURL, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if text != "body" {
		t.Errorf("text = %q, want body", text)
	}
	if headers.ETagValue() != "new" {
		t.Errorf("returned etag = %q, want new", headers.ETagValue())
	}

	calls := f.requester.Calls()
	if calls[len(calls)-1].etag != "old" {
		t.Errorf("conditional etag = %q, want old", calls[len(calls)-1].etag)
	}

	result, _ := f.client.Probe(context.Background(), testURL, time.Hour)
	if result.Headers.ETagValue() != "new" {
		t.Errorf("stored etag = %q, want new", result.Headers.ETagValue())
	}
}

func TestFetch_StaleNewContent(t *testing.T) {
	f := newFixture(t)
	f.populateStale(t, "v1", "a")

	f.requester.push(ok("v2", "b"))
	text, headers, err := f.client.Fetch(context.Background(), testURL, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if text != "v2" || headers.ETagValue() != "b" {
		t.Errorf("Fetch = %q (etag %q), want v2 (etag b)", text, headers.ETagValue())
	}

	result, _ := f.client.Probe(context.Background(), testURL, time.Hour)
	if result.State != StateHit || result.Text != "v2" {
		t.Errorf("Probe = %v %q, want hit v2", result.State, result.Text)
	}
}

func TestFetch_StaleFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		steps      []step
		wantText   string
		wantStatus int
		wantTransp bool
	}{
		{
			name:     "server error then success",
			steps:    []step{status(500), ok("v2", "b")},
			wantText: "v2",
		},
		{
			name:     "precondition failed then success",
			steps:    []step{status(412), ok("v2", "b")},
			wantText: "v2",
		},
		{
			name:     "transport error then success",
			steps:    []step{transportFailure(), ok("v2", "b")},
			wantText: "v2",
		},
		{
			name:       "server error twice",
			steps:      []step{status(500), status(503)},
			wantStatus: 503,
		},
		{
			name:       "transport error twice",
			steps:      []step{transportFailure(), transportFailure()},
			wantTransp: true,
		},
		{
			name:       "transport error then status",
			steps:      []step{transportFailure(), status(404)},
			wantStatus: 404,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.populateStale(t, "v1", "a")
			f.requester.push(tt.steps...)

			text, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)

			calls := f.requester.Calls()
			if len(calls) != 3 {
				t.Fatalf("requests = %d, want 3 (populate, conditional, fallback)", len(calls))
			}
			if calls[1].etag != "a" {
				t.Errorf("conditional etag = %q, want a", calls[1].etag)
			}
			if calls[2].etag != "" {
				t.Errorf("fallback etag = %q, want unconditional", calls[2].etag)
			}

			switch {
			case tt.wantStatus != 0:
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("expected *StatusError, got %v", err)
				}
				if statusErr.Status != tt.wantStatus {
					t.Errorf("Status = %d, want %d", statusErr.Status, tt.wantStatus)
				}
				if statusErr.URL != testURL {
					t.Errorf("URL = %q, want %q", statusErr.URL, testURL)
				}
			case tt.wantTransp:
				if !request.IsTransportError(err) {
					t.Fatalf("expected transport error, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("Fetch failed: %v", err)
				}
				if text != tt.wantText {
					t.Errorf("text = %q, want %q", text, tt.wantText)
				}
			}
		})
	}
}

func TestFetch_StaleWithoutETag(t *testing.T) {
	f := newFixture(t)
	f.populateStale(t, "v1", "")

	f.requester.push(ok("v2", ""))
	if _, _, err := f.client.Fetch(context.Background(), testURL, time.Hour); err != nil {
		t.Fatal(err)
	}
	calls := f.requester.Calls()
	if calls[1].etag != "" {
		t.Errorf("etag = %q, want none", calls[1].etag)
	}
}

func TestFetch_MissErrors(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		f := newFixture(t)
		f.requester.push(status(404))

		_, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.Status != 404 {
			t.Fatalf("expected 404 *StatusError, got %v", err)
		}
		if f.store.Writes() != 0 {
			t.Errorf("writes = %d, want 0 for failed fetch", f.store.Writes())
		}
	})

	t.Run("transport error is not retried", func(t *testing.T) {
		f := newFixture(t)
		f.requester.push(transportFailure())

		_, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)
		if !request.IsTransportError(err) {
			t.Fatalf("expected transport error, got %v", err)
		}
		if n := len(f.requester.Calls()); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.client.Fetch(context.Background(), "not a url", time.Hour)
		if !errors.Is(err, cache.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
		if n := len(f.requester.Calls()); n != 0 {
			t.Errorf("requests = %d, want 0", n)
		}
	})
}

func TestFetch_ProbeErrorTreatedAsMiss(t *testing.T) {
	f := newFixture(t)
	f.populateStale(t, "v1", "a")
	f.store.set(func(s *flakyStore) { s.failMetadata = true })

	f.requester.push(ok("v2", "b"))
	text, _, err := f.client.Fetch(context.Background(), testURL, cache.Forever)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if text != "v2" {
		t.Errorf("text = %q, want v2", text)
	}
	calls := f.requester.Calls()
	if calls[len(calls)-1].etag != "" {
		t.Errorf("etag = %q, want unconditional request after probe failure", calls[len(calls)-1].etag)
	}
}

func TestFetch_HitReadErrorTreatedAsMiss(t *testing.T) {
	f := newFixture(t)
	f.requester.push(ok("v1", "a"))
	if _, _, err := f.client.Fetch(context.Background(), testURL, cache.Forever); err != nil {
		t.Fatal(err)
	}
	f.store.set(func(s *flakyStore) { s.failRead = true })

	f.requester.push(ok("v2", "b"))
	text, _, err := f.client.Fetch(context.Background(), testURL, cache.Forever)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if text != "v2" {
		t.Errorf("text = %q, want v2", text)
	}
}

func TestFetch_WriteErrorPropagated(t *testing.T) {
	t.Run("miss", func(t *testing.T) {
		f := newFixture(t)
		f.store.set(func(s *flakyStore) { s.failWrite = true })
		f.requester.push(ok("v1", "a"))

		_, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)
		var writeErr *cache.WriteError
		if !errors.As(err, &writeErr) {
			t.Fatalf("expected *cache.WriteError, got %v", err)
		}
	})

	t.Run("stale with new content", func(t *testing.T) {
		f := newFixture(t)
		f.populateStale(t, "v1", "a")
		f.store.set(func(s *flakyStore) { s.failWrite = true })
		f.requester.push(ok("v2", "b"))

		_, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)
		if !errors.Is(err, errInjected) {
			t.Fatalf("expected injected write failure, got %v", err)
		}
	})
}

func TestFetch_TouchWriteErrorIgnored(t *testing.T) {
	f := newFixture(t)
	f.populateStale(t, "v1", "a")
	f.store.set(func(s *flakyStore) { s.failWrite = true })

	f.requester.push(notModified("a"))
	text, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)
	if err != nil {
		t.Fatalf("Fetch must not fail on touch write error: %v", err)
	}
	if text != "v1" {
		t.Errorf("text = %q, want v1", text)
	}
	if f.store.Writes() != 2 {
		t.Errorf("writes = %d, want 2 (populate, touch)", f.store.Writes())
	}
}

func TestFetch_NotModifiedReadFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.populateStale(t, "v1", "a")
	f.store.set(func(s *flakyStore) { s.failRead = true })

	f.requester.push(notModified("a"), ok("v2", "b"))
	text, _, err := f.client.Fetch(context.Background(), testURL, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if text != "v2" {
		t.Errorf("text = %q, want v2", text)
	}
	if n := len(f.requester.Calls()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestFetchJSON(t *testing.T) {
	type canteen struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	f := newFixture(t)
	f.requester.push(ok(`{"id": 1, "name": "Mensa Nord"}`, ""))

	got, err := FetchJSON[canteen](context.Background(), f.client, testURL, time.Hour)
	if err != nil {
		t.Fatalf("FetchJSON failed: %v", err)
	}
	if got.ID != 1 || got.Name != "Mensa Nord" {
		t.Errorf("FetchJSON = %+v", got)
	}

	f.requester.push(ok(`[1, 2, 3]`, ""))
	_, err = FetchJSON[canteen](context.Background(), f.client, testURL+"?page=2", time.Hour)
	var deErr *DeserializeError
	if !errors.As(err, &deErr) {
		t.Fatalf("expected *DeserializeError, got %v", err)
	}
}

func TestClearCacheAndEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		f.requester.push(ok(fmt.Sprintf("payload %d", i), ""))
		if _, _, err := f.client.Fetch(ctx, fmt.Sprintf("%s?page=%d", testURL, i), cache.Forever); err != nil {
			t.Fatal(err)
		}
	}

	count := 0
	for entry, err := range f.client.Entries(ctx) {
		if err != nil {
			t.Fatalf("Entries yielded error: %v", err)
		}
		if entry.Size == 0 {
			t.Errorf("entry %s has zero size", entry.Key)
		}
		count++
	}
	if count != 3 {
		t.Errorf("entries = %d, want 3", count)
	}

	if err := f.client.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	result, err := f.client.Probe(ctx, testURL+"?page=1", cache.Forever)
	if err != nil || result.State != StateMiss {
		t.Errorf("Probe after clear = %v, %v; want miss", result.State, err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateMiss: "miss", StateStale: "stale", StateHit: "hit", State(42): "unknown"}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
