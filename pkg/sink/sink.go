// Package sink forwards imported items to a downstream storage backend,
// one HTTP POST per item.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/bookmark-importer/pkg/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	// StatusAlreadyExists is returned by the backend for items it already holds.
	StatusAlreadyExists = 444

	// DescriptionLength is the excerpt length sent with each item, in runes.
	DescriptionLength = 200

	// ItemType tags every stored item.
	ItemType = "tweet"

	storePath = "/api/store"
)

// ErrSinkRejected is returned when the backend refuses one item.
var ErrSinkRejected = errors.New("sink rejected item")

var sinkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookmarks_sink_requests_total",
	Help: "Total downstream sink requests by result",
}, []string{"result"}) // "stored", "exists", "rejected", "error"

// Config holds the sink configuration.
type Config struct {
	// URL is the backend base URL.
	URL string

	// Token is sent as a bearer token; may be empty.
	Token string

	Timeout time.Duration
}

// Payload is the request body for one item.
type Payload struct {
	PageContent string `json:"pageContent"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// HTTPSink posts items to the backend.
type HTTPSink struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates an HTTP sink.
func New(cfg Config, logger zerolog.Logger) (*HTTPSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sink url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &HTTPSink{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}, nil
}

// Store posts one item. An item the backend already holds is skipped
// silently; any other non-2xx status returns ErrSinkRejected.
func (s *HTTPSink) Store(ctx context.Context, item timeline.ItemRecord) error {
	body, err := json.Marshal(NewPayload(item))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL+storePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.Token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		sinkRequestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("post item %s: %w", item.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == StatusAlreadyExists:
		sinkRequestsTotal.WithLabelValues("exists").Inc()
		s.logger.Debug().Str("id", item.ID).Msg("Item already exists downstream")
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		sinkRequestsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: item %s: status %d", ErrSinkRejected, item.ID, resp.StatusCode)
	}

	sinkRequestsTotal.WithLabelValues("stored").Inc()
	s.logger.Debug().Str("id", item.ID).Msg("Item stored downstream")
	return nil
}

// NewPayload builds the request body for item.
func NewPayload(item timeline.ItemRecord) Payload {
	return Payload{
		PageContent: Markdown(item),
		Title:       "Tweet by " + item.User.Name,
		Description: truncate(item.Content, DescriptionLength),
		Type:        ItemType,
	}
}

// Markdown renders item as a Markdown document.
func Markdown(item timeline.ItemRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Tweet by %s (@%s)\n\n", item.User.Name, item.User.ScreenName)
	b.WriteString(item.Content)
	b.WriteString("\n")

	if len(item.Images) > 0 {
		b.WriteString("\n")
		for i, img := range item.Images {
			fmt.Fprintf(&b, "![image %d](%s)\n", i+1, img)
		}
	}

	b.WriteString("\n")
	if !item.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Posted: %s\n", item.CreatedAt.UTC().Format(time.RFC3339))
	}
	if item.User.ScreenName != "" && item.ID != "" {
		fmt.Fprintf(&b, "Source: https://x.com/%s/status/%s\n", item.User.ScreenName, item.ID)
	}

	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
