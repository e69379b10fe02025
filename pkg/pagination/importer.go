package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/bookmark-importer/pkg/client"
	"github.com/Sternrassler/bookmark-importer/pkg/credentials"
	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/Sternrassler/bookmark-importer/pkg/ratelimit"
	"github.com/Sternrassler/bookmark-importer/pkg/store"
	"github.com/Sternrassler/bookmark-importer/pkg/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// User-facing messages.
const (
	progressFormat  = "Imported %d tweets"
	exhaustedFormat = "Import stopped after %d failed attempts. Please try again later."

	// FatalMessage is published when fetched items cannot be persisted.
	FatalMessage = "ALERT: Export X Bookmarks is unable to save tweets right now. Please contact support at @SaaSNoCap"
)

var (
	// ErrRunInProgress is returned when a run is triggered while another is active.
	ErrRunInProgress = errors.New("import already in progress")

	// ErrAttemptsExhausted is returned when MaxAttempts consecutive fetches fail.
	ErrAttemptsExhausted = errors.New("fetch attempts exhausted")
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookmarks_runs_total",
	Help: "Total import runs by result",
}, []string{"result"}) // "completed", "not_ready", "failed", "exhausted", "cancelled"

// PageFetcher fetches one page of the timeline. Errors are classified with
// client.OutcomeOf.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string, creds credentials.Credentials) (*client.Page, error)
}

// ItemSink receives every stored item. Sink failures never abort a run.
type ItemSink interface {
	Store(ctx context.Context, item timeline.ItemRecord) error
}

// Config holds importer settings.
type Config struct {
	// Backoff configures the per-run rate controller.
	Backoff ratelimit.Config

	// MaxAttempts bounds consecutive failed fetches of one cursor.
	// Zero retries forever.
	MaxAttempts int

	// PageDelay is the pause between two successful pages.
	PageDelay time.Duration

	// ClearOnStart clears the persisted collection when Start is called.
	ClearOnStart bool
}

// DefaultConfig returns unbounded retry, 60s initial backoff and a 1s page delay.
func DefaultConfig() Config {
	return Config{
		Backoff:      ratelimit.DefaultConfig(),
		MaxAttempts:  0,
		PageDelay:    time.Second,
		ClearOnStart: true,
	}
}

// RunResult summarizes one run.
type RunResult struct {
	TotalImported  int
	Pages          int
	FetchAttempts  int
	RateLimitWaits int

	// Completed is true when the done event was published.
	Completed bool

	// NotReady is true when the run stopped on incomplete credentials.
	NotReady bool
}

// Importer runs imports, one at a time.
type Importer struct {
	fetcher  PageFetcher
	creds    credentials.Source
	store    store.Store
	notifier notify.Notifier
	sink     ItemSink
	locker   Locker
	config   Config
	sleep    ratelimit.Sleeper
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	state   State

	async sync.WaitGroup
}

// Option customizes an Importer.
type Option func(*Importer)

// WithSink forwards stored items to s.
func WithSink(s ItemSink) Option {
	return func(im *Importer) { im.sink = s }
}

// WithLocker serializes runs across processes.
func WithLocker(l Locker) Option {
	return func(im *Importer) { im.locker = l }
}

// WithSleeper replaces the backoff and page delay sleeper (for testing).
func WithSleeper(s ratelimit.Sleeper) Option {
	return func(im *Importer) { im.sleep = s }
}

// WithLogger sets the importer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// New creates an importer. A nil notifier discards events.
func New(fetcher PageFetcher, creds credentials.Source, st store.Store, notifier notify.Notifier, cfg Config, opts ...Option) *Importer {
	if fetcher == nil || creds == nil || st == nil {
		panic("fetcher, credential source and store are required")
	}
	if notifier == nil {
		notifier = notify.Multi{}
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}

	im := &Importer{
		fetcher:  fetcher,
		creds:    creds,
		store:    st,
		notifier: notifier,
		config:   cfg,
		sleep:    ratelimit.Sleep,
		logger:   log.With().Str("component", "pagination").Logger(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// State returns the current state.
func (im *Importer) State() State {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state
}

// Running reports whether a run is in flight.
func (im *Importer) Running() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.running
}

func (im *Importer) setState(s State) {
	im.mu.Lock()
	im.state = s
	im.mu.Unlock()
}

// Start is the trigger: it clears the persisted collection (when
// ClearOnStart is set) and runs an import from the first page.
func (im *Importer) Start(ctx context.Context) (RunResult, error) {
	if !im.acquire() {
		return RunResult{}, ErrRunInProgress
	}
	defer im.release()
	return im.execute(ctx, im.config.ClearOnStart)
}

// StartAsync claims the run synchronously and performs it in a new
// goroutine, like Start. It returns ErrRunInProgress when a run is active.
// done, if set, receives the outcome.
func (im *Importer) StartAsync(ctx context.Context, done func(RunResult, error)) error {
	if !im.acquire() {
		return ErrRunInProgress
	}
	im.async.Add(1)
	go func() {
		defer im.async.Done()
		defer im.release()
		result, err := im.execute(ctx, im.config.ClearOnStart)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

// Wait blocks until every run started by StartAsync has returned and its
// done callback has finished.
func (im *Importer) Wait() {
	im.async.Wait()
}

// RunOnce runs an import without clearing the collection first. The caller
// guarantees the collection was cleared.
func (im *Importer) RunOnce(ctx context.Context) (RunResult, error) {
	if !im.acquire() {
		return RunResult{}, ErrRunInProgress
	}
	defer im.release()
	return im.execute(ctx, false)
}

func (im *Importer) acquire() bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.running {
		return false
	}
	im.running = true
	im.state = StateIdle
	return true
}

func (im *Importer) release() {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.running = false
	if im.state != StateFailed {
		im.state = StateIdle
	}
}

func (im *Importer) execute(ctx context.Context, clearFirst bool) (RunResult, error) {
	if im.locker != nil {
		unlock, err := im.locker.Lock(ctx)
		if err != nil {
			return RunResult{}, err
		}
		defer unlock()
	}

	if clearFirst {
		if err := im.store.Clear(ctx); err != nil {
			im.logger.Error().Err(err).Msg("Failed to clear collection before import")
			im.fail(ctx)
			runsTotal.WithLabelValues("failed").Inc()
			return RunResult{}, fmt.Errorf("clear collection: %w", err)
		}
	}

	return im.run(ctx)
}

// run is the state machine. It owns the import state: cursor, running total
// and a rate controller scoped to this run.
func (im *Importer) run(ctx context.Context) (RunResult, error) {
	var (
		result   RunResult
		cursor   string
		failures int
	)
	controller := ratelimit.NewController(im.config.Backoff, im.notifier, im.sleep, im.logger)

	im.logger.Info().Msg("Import started")

	for {
		if err := ctx.Err(); err != nil {
			return im.cancelled(result, cursor, err)
		}

		creds, err := im.creds.Get(ctx)
		if err != nil {
			im.logger.Warn().Err(err).Msg("Credential source unavailable")
		}
		if err != nil || !creds.Complete() {
			im.logger.Debug().Str("cursor", cursor).Msg("Credentials incomplete, import not started")
			result.NotReady = true
			runsTotal.WithLabelValues("not_ready").Inc()
			return result, nil
		}

		im.setState(StateFetching)
		result.FetchAttempts++
		page, err := im.fetcher.FetchPage(ctx, cursor, creds)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return im.cancelled(result, cursor, ctxErr)
			}

			failures++
			im.logger.Warn().
				Err(err).
				Str("cursor", cursor).
				Str("outcome", string(client.OutcomeOf(err))).
				Int("attempt", failures).
				Int("total_imported", result.TotalImported).
				Msg("Page fetch failed")

			if im.config.MaxAttempts > 0 && failures >= im.config.MaxAttempts {
				im.logger.Error().Int("attempts", failures).Str("cursor", cursor).Msg("Fetch attempts exhausted")
				im.notifier.Publish(ctx, notify.Progress(fmt.Sprintf(exhaustedFormat, failures)))
				im.setState(StateFailed)
				runsTotal.WithLabelValues("exhausted").Inc()
				return result, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, failures, err)
			}

			im.setState(StateRateLimited)
			result.RateLimitWaits++
			if _, err := controller.OnRateLimited(ctx); err != nil {
				return im.cancelled(result, cursor, err)
			}
			continue
		}
		failures = 0

		im.setState(StateExtracting)
		extracted := timeline.Extract(page.Body)
		if extracted.Anomaly != nil {
			im.logger.Warn().
				Err(extracted.Anomaly).
				Str("cursor", cursor).
				Msg("Unexpected page structure, continuing with empty page")
		}

		im.setState(StateStoring)
		if _, err := im.store.Append(ctx, extracted.Items); err != nil {
			im.logger.Error().
				Err(err).
				Str("cursor", cursor).
				Int("items", len(extracted.Items)).
				Int("total_imported", result.TotalImported).
				Msg("Failed to store page")
			im.fail(ctx)
			runsTotal.WithLabelValues("failed").Inc()
			return result, fmt.Errorf("store page: %w", err)
		}

		result.Pages++
		result.TotalImported += len(extracted.Items)
		im.notifier.Publish(ctx, notify.Progress(fmt.Sprintf(progressFormat, result.TotalImported)))
		im.forward(ctx, extracted.Items)
		controller.Reset()

		im.logger.Info().
			Str("cursor", cursor).
			Int("items", len(extracted.Items)).
			Int("total_imported", result.TotalImported).
			Msg("Page imported")

		next := extracted.NextCursor
		if next == "" || next == cursor {
			im.setState(StateDone)
			im.notifier.Publish(ctx, notify.Done(result.TotalImported))
			result.Completed = true
			runsTotal.WithLabelValues("completed").Inc()
			im.logger.Info().
				Int("total_imported", result.TotalImported).
				Int("pages", result.Pages).
				Msg("All bookmarks imported")
			return result, nil
		}

		if err := im.sleep(ctx, im.config.PageDelay); err != nil {
			return im.cancelled(result, next, err)
		}
		cursor = next
	}
}

// forward hands stored items to the sink, logging per-item failures.
func (im *Importer) forward(ctx context.Context, items []timeline.ItemRecord) {
	if im.sink == nil {
		return
	}
	for _, item := range items {
		if err := im.sink.Store(ctx, item); err != nil {
			im.logger.Warn().Err(err).Str("id", item.ID).Msg("Failed to forward item to sink")
		}
	}
}

func (im *Importer) fail(ctx context.Context) {
	im.setState(StateFailed)
	im.notifier.Publish(ctx, notify.Progress(FatalMessage))
}

func (im *Importer) cancelled(result RunResult, cursor string, err error) (RunResult, error) {
	im.logger.Warn().
		Str("cursor", cursor).
		Int("total_imported", result.TotalImported).
		Msg("Import cancelled")
	runsTotal.WithLabelValues("cancelled").Inc()
	return result, fmt.Errorf("import cancelled: %w", err)
}
