// Package request performs the HTTP GETs behind the fetch-through cache and
// projects the response headers the cache cares about.
package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds every request including reading the body.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is sent when no User-Agent is configured.
	DefaultUserAgent = "mensa-client/dev"
)

// Prometheus metrics for outgoing requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mensa_requests_total",
		Help: "Total upstream requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mensa_request_duration_seconds",
		Help:    "Upstream request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	transportRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mensa_transport_retries_total",
		Help: "Total number of transport-level retry attempts",
	})
)

// Response is the part of an HTTP response the cache works with.
type Response struct {
	URL     string
	Status  int
	Headers Headers
	Body    string
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// IsNotModified reports a 304 status.
func (r *Response) IsNotModified() bool {
	return r.Status == http.StatusNotModified
}

// Requester performs a GET, optionally conditional on etag.
// Any non-nil error is a *TransportError; statuses are never errors.
type Requester interface {
	Get(ctx context.Context, url string, etag string) (*Response, error)
}

// Limiter gates requests per target URL.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config holds the requester configuration.
type Config struct {
	// Timeout per request, including the body (default: DefaultTimeout)
	Timeout time.Duration

	// UserAgent header value (default: DefaultUserAgent)
	UserAgent string

	// Limiter is optional; nil disables rate limiting
	Limiter Limiter

	// Retry for transport errors (default: single attempt)
	Retry RetryConfig

	// Logger defaults to the global logger with component "http-requester"
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
		Retry:     DefaultRetryConfig(),
	}
}

// HTTPRequester implements Requester on net/http.
type HTTPRequester struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewHTTPRequester creates a requester from cfg.
func NewHTTPRequester(cfg Config) *HTTPRequester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	logger := log.With().Str("component", "http-requester").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPRequester{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (r *HTTPRequester) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

// Get implements Requester.
func (r *HTTPRequester) Get(ctx context.Context, rawURL string, etag string) (*Response, error) {
	var resp *Response
	err := retryWithBackoff(ctx, r.config.Retry, r.logger, func() error {
		var err error
		resp, err = r.do(ctx, rawURL, etag)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *HTTPRequester) do(ctx context.Context, rawURL string, etag string) (*Response, error) {
	host := hostLabel(rawURL)

	if r.config.Limiter != nil {
		if err := r.config.Limiter.Wait(ctx, rawURL); err != nil {
			return nil, &TransportError{URL: rawURL, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", r.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	r.logger.Debug().
		Str("url", rawURL).
		Bool("conditional", etag != "").
		Msg("Executing request")

	start := time.Now()
	httpResp, err := r.httpClient.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(host, "network_error").Inc()
		r.logger.Warn().Err(err).Str("url", rawURL).Msg("HTTP request failed")
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(host, "network_error").Inc()
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("read response body: %w", err)}
	}

	requestsTotal.WithLabelValues(host, strconv.Itoa(httpResp.StatusCode)).Inc()

	return &Response{
		URL:     rawURL,
		Status:  httpResp.StatusCode,
		Headers: ProjectHeaders(httpResp.Header),
		Body:    strings.ToValidUTF8(string(body), "�"),
	}, nil
}

func hostLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}
