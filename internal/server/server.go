// Package server exposes the fetch-through cache over HTTP. Requests under
// /api/ are forwarded to the configured upstream base URL and answered from
// the cache whenever it is fresh or the upstream confirms it with a 304.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/mensa-client/pkg/cache"
	"github.com/Sternrassler/mensa-client/pkg/client"
	"github.com/Sternrassler/mensa-client/pkg/metrics"
	"github.com/Sternrassler/mensa-client/pkg/request"
)

const (
	// HeaderRequestID carries the request ID in both directions.
	HeaderRequestID = "X-Request-ID"

	// HeaderCache reports the cache state found before the request was served.
	HeaderCache = "X-Cache"

	// APIPrefix is the route prefix proxied to the upstream.
	APIPrefix = "/api"
)

// Options configures a Server.
type Options struct {
	// Client serves all upstream requests
	Client *client.Client

	// BaseURL is the upstream the /api/ prefix maps to
	BaseURL string

	// TTL is the freshness window for proxied responses
	TTL time.Duration

	// Logger defaults to the global logger with component "server"
	Logger *zerolog.Logger
}

// Server is the caching proxy.
type Server struct {
	Router  *chi.Mux
	client  *client.Client
	baseURL string
	ttl     time.Duration
	logger  zerolog.Logger
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Client == nil {
		return nil, errors.New("fetch client is required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("base url is required")
	}

	logger := log.With().Str("component", "server").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		Router:  chi.NewRouter(),
		client:  opts.Client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		ttl:     opts.TTL,
		logger:  logger,
	}

	s.Router.Use(chimw.RealIP)
	s.Router.Use(s.requestID)
	s.Router.Use(s.accessLog)
	s.Router.Use(chimw.Recoverer)

	s.Router.Get("/health", s.handleHealth)
	s.Router.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.Router.Get(APIPrefix+"/*", s.handleProxy)

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Str("upstream", s.baseURL).Msg("Starting caching proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down caching proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	target := s.baseURL + "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	logger := zerolog.Ctx(r.Context())

	state := "error"
	if probe, err := s.client.Probe(r.Context(), target, s.ttl); err == nil {
		state = probe.State.String()
	}

	text, headers, err := s.client.Fetch(r.Context(), target, s.ttl)
	if err != nil {
		s.writeFetchError(w, logger, target, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set(HeaderCache, state)
	if headers.ETag != nil {
		h.Set(request.HeaderETag, *headers.ETag)
	}
	if headers.ThisPage != nil {
		h.Set(request.HeaderCurrentPage, strconv.Itoa(*headers.ThisPage))
	}
	if headers.LastPage != nil {
		h.Set(request.HeaderTotalPages, strconv.Itoa(*headers.LastPage))
	}
	if headers.NextPage != nil {
		h.Set(request.HeaderLink, fmt.Sprintf(`<%s>; rel="next"`, s.localURL(*headers.NextPage)))
	}

	if etag := headers.ETagValue(); etag != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(text)); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// localURL maps an upstream URL back under APIPrefix. Foreign URLs are
// returned unchanged.
func (s *Server) localURL(upstream string) string {
	rest, ok := strings.CutPrefix(upstream, s.baseURL)
	if !ok || (rest != "" && rest[0] != '/' && rest[0] != '?') {
		return upstream
	}
	return APIPrefix + rest
}

func (s *Server) writeFetchError(w http.ResponseWriter, logger *zerolog.Logger, target string, err error) {
	status := http.StatusBadGateway
	var statusErr *client.StatusError
	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status <= 599:
		status = statusErr.Status
	}

	logger.Warn().Err(err).Str("url", target).Int("status", status).Msg("Proxy request failed")
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// requestID propagates or assigns X-Request-ID and attaches a request
// scoped logger to the context.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		logger := s.logger.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zerolog.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
