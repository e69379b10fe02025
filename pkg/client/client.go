// Package client fetches single pages of the bookmarks timeline and
// classifies each response as success, rate-limited or hard failure.
//
// The fetcher never retries on its own; retry policy belongs to the caller.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/bookmark-importer/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the bookmarks GraphQL endpoint.
	DefaultBaseURL = "https://x.com/i/api/graphql/xLjCVTqYWz8CGSprLU349w/Bookmarks"

	// DefaultPageSize is the number of items requested per page.
	DefaultPageSize = 100
)

// Prometheus metrics for page fetches.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookmarks_fetch_requests_total",
		Help: "Total bookmark page fetches by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookmarks_fetch_duration_seconds",
		Help:    "Bookmark page fetch duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})
)

// Page is the unparsed body of one successful response.
type Page struct {
	StatusCode int
	Body       []byte
}

// Config holds the fetcher configuration.
type Config struct {
	// BaseURL is the endpoint URL without the features/variables query.
	BaseURL string

	// PageSize is sent as the "count" variable.
	PageSize int

	// Features is the static feature-flag blob.
	Features map[string]bool

	// UserAgent is optional; the remote accepts browser-like agents.
	UserAgent string

	// Timeout bounds a single request.
	Timeout time.Duration
}

// DefaultConfig returns the configuration for the public endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		PageSize: DefaultPageSize,
		Features: DefaultFeatures,
		Timeout:  30 * time.Second,
	}
}

// Fetcher issues one paginated request per call.
type Fetcher struct {
	httpClient *http.Client
	baseURL    *url.URL
	features   string
	config     Config
	logger     zerolog.Logger
}

// variables is the per-request query document.
type variables struct {
	Count                  int    `json:"count"`
	Cursor                 string `json:"cursor,omitempty"`
	IncludePromotedContent bool   `json:"includePromotedContent"`
}

// New creates a fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", cfg.PageSize)
	}
	if cfg.Features == nil {
		cfg.Features = DefaultFeatures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	features, err := json.Marshal(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}

	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		features:   string(features),
		config:     cfg,
		logger:     log.With().Str("component", "fetcher").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// SetLogger replaces the fetcher logger.
func (f *Fetcher) SetLogger(logger zerolog.Logger) {
	f.logger = logger
}

// BuildURL returns the request URL for cursor. An empty cursor requests the
// first page.
func (f *Fetcher) BuildURL(cursor string) (string, error) {
	vars, err := json.Marshal(variables{
		Count:                  f.config.PageSize,
		Cursor:                 cursor,
		IncludePromotedContent: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal variables: %w", err)
	}

	u := *f.baseURL
	q := u.Query()
	q.Set("features", f.features)
	q.Set("variables", string(vars))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchPage requests the page at cursor. A non-nil error is always a
// *FetchError whose Outcome is OutcomeRateLimited or OutcomeHardFailure.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string, creds credentials.Credentials) (*Page, error) {
	startTime := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(startTime).Seconds())
	}()

	target, err := f.BuildURL(cursor)
	if err != nil {
		return nil, f.fail(0, OutcomeHardFailure, "build request url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, f.fail(0, OutcomeHardFailure, "create request", err)
	}
	creds.Apply(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	f.logger.Debug().
		Str("cursor", cursor).
		Int("page_size", f.config.PageSize).
		Msg("Fetching bookmarks page")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, f.fail(0, OutcomeHardFailure, "transport error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, f.fail(resp.StatusCode, OutcomeRateLimited, resp.Status, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, f.fail(resp.StatusCode, OutcomeHardFailure, resp.Status, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.fail(resp.StatusCode, OutcomeHardFailure, "read response body", err)
	}

	fetchRequestsTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
	f.logger.Debug().
		Str("cursor", cursor).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Fetched bookmarks page")

	return &Page{StatusCode: resp.StatusCode, Body: body}, nil
}

func (f *Fetcher) fail(status int, outcome Outcome, msg string, err error) *FetchError {
	fetchRequestsTotal.WithLabelValues(string(outcome)).Inc()

	event := f.logger.Warn()
	if outcome == OutcomeHardFailure {
		event = f.logger.Error()
	}
	event.Err(err).
		Int("status", status).
		Str("outcome", string(outcome)).
		Msg(msg)

	return &FetchError{
		StatusCode: status,
		Outcome:    outcome,
		Message:    msg,
		Err:        err,
	}
}
