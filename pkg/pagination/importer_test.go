package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/bookmark-importer/internal/testutil"
	"github.com/Sternrassler/bookmark-importer/pkg/client"
	"github.com/Sternrassler/bookmark-importer/pkg/credentials"
	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/Sternrassler/bookmark-importer/pkg/ratelimit"
	"github.com/Sternrassler/bookmark-importer/pkg/store"
	"github.com/Sternrassler/bookmark-importer/pkg/timeline"
	"github.com/rs/zerolog"
)

var testCreds = credentials.StaticSource{
	SessionToken: "auth_token=abc",
	CSRFToken:    "csrf",
	AuthToken:    "Bearer xyz",
}

const (
	testInitialBackoff = 60 * time.Second
	testPageDelay      = time.Second
)

// recordingSleeper records every requested wait without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// failingStore rejects every append.
type failingStore struct {
	*store.MemoryStore
	appendErr error
	clearErr  error
	appends   int
}

func (s *failingStore) Append(ctx context.Context, items []timeline.ItemRecord) (int, error) {
	s.appends++
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	return s.MemoryStore.Append(ctx, items)
}

func (s *failingStore) Clear(ctx context.Context) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	return s.MemoryStore.Clear(ctx)
}

type recordingSink struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *recordingSink) Store(_ context.Context, item timeline.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, item.ID)
	return s.err
}

type harness struct {
	mock     *testutil.MockTimeline
	store    *store.MemoryStore
	events   *notify.Recorder
	sleeper  *recordingSleeper
	importer *Importer
}

func newHarness(t *testing.T, creds credentials.Source, cfg Config, script ...testutil.MockResponse) *harness {
	t.Helper()

	mock := testutil.NewMockTimeline(script...)
	t.Cleanup(mock.Close)

	fetcher, err := client.New(client.Config{BaseURL: mock.URL(), PageSize: 100})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	fetcher.SetLogger(zerolog.Nop())

	h := &harness{
		mock:    mock,
		store:   store.NewMemoryStore(),
		events:  &notify.Recorder{},
		sleeper: &recordingSleeper{},
	}
	h.importer = New(fetcher, creds, h.store, h.events, cfg,
		WithSleeper(h.sleeper.Sleep),
		WithLogger(zerolog.Nop()),
	)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = ratelimit.Config{InitialInterval: testInitialBackoff}
	cfg.PageDelay = testPageDelay
	return cfg
}

func progressTexts(events []notify.Event) []string {
	var out []string
	for _, e := range events {
		if e.Kind == notify.KindProgress {
			out = append(out, e.Text)
		}
	}
	return out
}

func doneEvents(events []notify.Event) []notify.Event {
	var out []notify.Event
	for _, e := range events {
		if e.Kind == notify.KindDone {
			out = append(out, e)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStart_AccumulatesAcrossPages(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.OKResponse(testutil.TimelinePage(1, 3, "A")),
		testutil.OKResponse(testutil.TimelinePage(4, 2, "B")),
		testutil.OKResponse(testutil.TimelinePage(6, 1, "")),
	)

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if result.TotalImported != 6 || result.Pages != 3 || !result.Completed {
		t.Errorf("result = %+v, want 6 items over 3 pages, completed", result)
	}
	if got := h.mock.Cursors(); !equalStrings(got, []string{"", "A", "B"}) {
		t.Errorf("cursors = %v, want [\"\" A B]", got)
	}

	total, _ := h.store.Total(context.Background())
	if total != 6 {
		t.Errorf("store total = %d, want 6", total)
	}

	wantProgress := []string{"Imported 3 tweets", "Imported 5 tweets", "Imported 6 tweets"}
	if got := progressTexts(h.events.Events()); !equalStrings(got, wantProgress) {
		t.Errorf("progress = %v, want %v", got, wantProgress)
	}

	done := doneEvents(h.events.Events())
	if len(done) != 1 || done[0].TotalImported != 6 {
		t.Errorf("done events = %+v, want one with total 6", done)
	}

	waits := h.sleeper.Waits()
	if len(waits) != 2 || waits[0] != testPageDelay || waits[1] != testPageDelay {
		t.Errorf("waits = %v, want two page delays", waits)
	}
	if h.importer.State() != StateIdle || h.importer.Running() {
		t.Errorf("state = %s running = %v after completion", h.importer.State(), h.importer.Running())
	}
}

func TestStart_RepeatedCursorStops(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.OKResponse(testutil.TimelinePage(1, 100, "B")),
		testutil.OKResponse(testutil.TimelinePage(0, 0, "B")),
		testutil.OKResponse(testutil.TimelinePage(500, 5, "C")),
	)

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if h.mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", h.mock.RequestCount())
	}
	if result.TotalImported != 100 {
		t.Errorf("TotalImported = %d, want 100", result.TotalImported)
	}

	done := doneEvents(h.events.Events())
	if len(done) != 1 || done[0].TotalImported != 100 {
		t.Errorf("done events = %+v, want one with total 100", done)
	}
}

func TestStart_RateLimitThenSuccess(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.RateLimitResponse(),
		testutil.OKResponse(testutil.TimelinePage(1, 50, "")),
	)

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if result.RateLimitWaits != 1 || result.FetchAttempts != 2 {
		t.Errorf("result = %+v, want 1 wait and 2 attempts", result)
	}

	wantProgress := []string{
		ratelimit.WaitMessage(testInitialBackoff),
		"Imported 50 tweets",
	}
	if got := progressTexts(h.events.Events()); !equalStrings(got, wantProgress) {
		t.Errorf("progress = %v, want %v", got, wantProgress)
	}

	done := doneEvents(h.events.Events())
	if len(done) != 1 || done[0].TotalImported != 50 {
		t.Errorf("done events = %+v, want one with total 50", done)
	}

	// The rate-limited attempt must not reach storage.
	items, _ := h.store.Load(context.Background())
	if len(items) != 50 {
		t.Errorf("stored %d items, want 50", len(items))
	}
	if got := h.mock.Cursors(); !equalStrings(got, []string{"", ""}) {
		t.Errorf("cursors = %v, want the first cursor retried", got)
	}
}

func TestStart_BackoffDoublesAndResets(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.RateLimitResponse(),
		testutil.RateLimitResponse(),
		testutil.OKResponse(testutil.TimelinePage(1, 2, "A")),
		testutil.RateLimitResponse(),
		testutil.OKResponse(testutil.TimelinePage(3, 2, "")),
	)

	if _, err := h.importer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []time.Duration{
		testInitialBackoff,
		2 * testInitialBackoff,
		testPageDelay,
		testInitialBackoff,
	}
	got := h.sleeper.Waits()
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStart_HardFailureRetried(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.ServerErrorResponse(),
		testutil.OKResponse(testutil.TimelinePage(1, 4, "")),
	)

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.TotalImported != 4 || result.RateLimitWaits != 1 {
		t.Errorf("result = %+v, want 4 items after 1 wait", result)
	}
}

func TestStart_IncompleteCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds credentials.StaticSource
	}{
		{name: "no session", creds: credentials.StaticSource{CSRFToken: "c", AuthToken: "a"}},
		{name: "no csrf", creds: credentials.StaticSource{SessionToken: "s", AuthToken: "a"}},
		{name: "no auth", creds: credentials.StaticSource{SessionToken: "s", CSRFToken: "c"}},
		{name: "empty", creds: credentials.StaticSource{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.creds, testConfig(),
				testutil.OKResponse(testutil.TimelinePage(1, 1, "")),
			)

			result, err := h.importer.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce() error = %v", err)
			}
			if !result.NotReady || result.Completed {
				t.Errorf("result = %+v, want not ready", result)
			}
			if h.mock.RequestCount() != 0 {
				t.Errorf("requests = %d, want 0", h.mock.RequestCount())
			}
			if n := len(h.events.Events()); n != 0 {
				t.Errorf("events = %d, want 0", n)
			}
		})
	}
}

type errSource struct{}

func (errSource) Get(context.Context) (credentials.Credentials, error) {
	return credentials.Credentials{}, errors.New("redis down")
}

func TestStart_CredentialSourceError(t *testing.T) {
	h := newHarness(t, errSource{}, testConfig(), testutil.OKResponse(testutil.TimelinePage(1, 1, "")))

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !result.NotReady || h.mock.RequestCount() != 0 {
		t.Errorf("result = %+v requests = %d, want silent abort", result, h.mock.RequestCount())
	}
}

func TestStart_EmptyPageCompletes(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.OKResponse(testutil.TimelinePage(1, 2, "A")),
		testutil.OKResponse(testutil.EmptyInstructionsPage()),
	)

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if result.TotalImported != 2 || !result.Completed {
		t.Errorf("result = %+v, want completed with 2", result)
	}
	if got := progressTexts(h.events.Events()); !equalStrings(got, []string{"Imported 2 tweets", "Imported 2 tweets"}) {
		t.Errorf("progress = %v", got)
	}
}

func TestStart_InvalidJSONCompletes(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.OKResponse([]byte("<html>")))

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.TotalImported != 0 || !result.Completed {
		t.Errorf("result = %+v, want completed with 0", result)
	}
}

func TestStart_StoreFailure(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.OKResponse(testutil.TimelinePage(1, 3, "A")),
		testutil.OKResponse(testutil.TimelinePage(4, 3, "")),
	)
	failing := &failingStore{
		MemoryStore: store.NewMemoryStore(),
		appendErr:   fmt.Errorf("%w: disk full", store.ErrStoreWrite),
	}
	h.importer.store = failing

	result, err := h.importer.Start(context.Background())
	if !errors.Is(err, store.ErrStoreWrite) {
		t.Fatalf("Start() error = %v, want ErrStoreWrite", err)
	}
	if result.Completed || result.TotalImported != 0 {
		t.Errorf("result = %+v, want incomplete with 0", result)
	}
	if failing.appends != 1 || h.mock.RequestCount() != 1 {
		t.Errorf("appends = %d requests = %d, want the run to stop after one page", failing.appends, h.mock.RequestCount())
	}
	if got := progressTexts(h.events.Events()); !equalStrings(got, []string{FatalMessage}) {
		t.Errorf("progress = %v, want the fatal message only", got)
	}
	if len(doneEvents(h.events.Events())) != 0 {
		t.Error("failed run must not publish done")
	}
	if h.importer.State() != StateFailed {
		t.Errorf("state = %s, want failed", h.importer.State())
	}
}

func TestStart_ClearFailure(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.OKResponse(testutil.TimelinePage(1, 1, "")))
	h.importer.store = &failingStore{
		MemoryStore: store.NewMemoryStore(),
		clearErr:    fmt.Errorf("%w: read only", store.ErrStoreWrite),
	}

	if _, err := h.importer.Start(context.Background()); !errors.Is(err, store.ErrStoreWrite) {
		t.Fatalf("Start() error = %v, want ErrStoreWrite", err)
	}
	if h.mock.RequestCount() != 0 {
		t.Errorf("requests = %d, want 0", h.mock.RequestCount())
	}
}

func TestStart_ClearsExistingCollection(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.OKResponse(testutil.TimelinePage(10, 2, "")))
	ctx := context.Background()
	h.store.Append(ctx, []timeline.ItemRecord{{ID: "old-1"}, {ID: "old-2"}, {ID: "old-3"}})

	if _, err := h.importer.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	items, _ := h.store.Load(ctx)
	if len(items) != 2 || items[0].ID != "10" {
		t.Errorf("items = %+v, want only the imported page", items)
	}
}

func TestRunOnce_KeepsExistingCollection(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.OKResponse(testutil.TimelinePage(10, 2, "")))
	ctx := context.Background()
	h.store.Append(ctx, []timeline.ItemRecord{{ID: "old-1"}})

	result, err := h.importer.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	total, _ := h.store.Total(ctx)
	if total != 3 || result.TotalImported != 2 {
		t.Errorf("store total = %d, run total = %d, want 3 and 2", total, result.TotalImported)
	}
}

func TestStart_MaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	h := newHarness(t, testCreds, cfg, testutil.ServerErrorResponse())

	result, err := h.importer.Start(context.Background())
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("Start() error = %v, want ErrAttemptsExhausted", err)
	}
	if h.mock.RequestCount() != 3 {
		t.Errorf("requests = %d, want 3", h.mock.RequestCount())
	}
	if result.RateLimitWaits != 2 {
		t.Errorf("waits = %d, want 2", result.RateLimitWaits)
	}
	if h.importer.State() != StateFailed {
		t.Errorf("state = %s, want failed", h.importer.State())
	}
}

func TestStart_MaxBackoffClamps(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff.MaxInterval = 90 * time.Second
	h := newHarness(t, testCreds, cfg,
		testutil.RateLimitResponse(),
		testutil.RateLimitResponse(),
		testutil.RateLimitResponse(),
		testutil.OKResponse(testutil.TimelinePage(1, 1, "")),
	)

	if _, err := h.importer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	want := []time.Duration{60 * time.Second, 90 * time.Second, 90 * time.Second}
	got := h.sleeper.Waits()
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStart_CancelDuringBackoff(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.RateLimitResponse())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.importer.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := h.importer.Start(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if h.mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1", h.mock.RequestCount())
	}
	if len(doneEvents(h.events.Events())) != 0 {
		t.Error("cancelled run must not publish done")
	}
	if h.importer.Running() {
		t.Error("importer still running after cancellation")
	}
}

func TestStart_CancelBeforeFirstFetch(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.OKResponse(testutil.TimelinePage(1, 1, "")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.importer.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if h.mock.RequestCount() != 0 {
		t.Errorf("requests = %d, want 0", h.mock.RequestCount())
	}
}

func TestStart_RunInProgress(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.TimelinePage(1, 1, ""),
		Delay:      200 * time.Millisecond,
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.importer.Start(context.Background())
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.importer.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.importer.Start(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Start() error = %v, want ErrRunInProgress", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if h.mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1", h.mock.RequestCount())
	}

	// A new run is accepted once the first one finished.
	if _, err := h.importer.Start(context.Background()); err != nil {
		t.Errorf("third Start() error = %v", err)
	}
}

func TestStart_ForwardsToSink(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(),
		testutil.OKResponse(testutil.TimelinePage(1, 2, "A")),
		testutil.OKResponse(testutil.TimelinePage(3, 1, "")),
	)
	sink := &recordingSink{err: errors.New("downstream unavailable")}
	WithSink(sink)(h.importer)

	result, err := h.importer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.TotalImported != 3 {
		t.Errorf("TotalImported = %d, want 3", result.TotalImported)
	}
	if !equalStrings(sink.ids, []string{"1", "2", "3"}) {
		t.Errorf("sink ids = %v, want [1 2 3]", sink.ids)
	}
}

type denyLocker struct{}

func (denyLocker) Lock(context.Context) (func(), error) { return nil, ErrRunInProgress }

func TestStart_LockerDenies(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.OKResponse(testutil.TimelinePage(1, 1, "")))
	WithLocker(denyLocker{})(h.importer)

	if _, err := h.importer.Start(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Start() error = %v, want ErrRunInProgress", err)
	}
	if h.mock.RequestCount() != 0 {
		t.Errorf("requests = %d, want 0", h.mock.RequestCount())
	}
	if h.importer.Running() {
		t.Error("importer marked running after lock denial")
	}
}

func TestNew_PanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New(nil, testCreds, store.NewMemoryStore(), nil, DefaultConfig())
}

func TestState_Running(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, false},
		{StateFetching, true},
		{StateRateLimited, true},
		{StateExtracting, true},
		{StateStoring, true},
		{StateDone, false},
		{StateFailed, false},
	}
	for _, tt := range tests {
		if got := tt.state.Running(); got != tt.want {
			t.Errorf("%s.Running() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestStartAsync(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.TimelinePage(1, 7, ""),
		Delay:      100 * time.Millisecond,
	})

	type outcome struct {
		result RunResult
		err    error
	}
	done := make(chan outcome, 1)
	err := h.importer.StartAsync(context.Background(), func(r RunResult, err error) {
		done <- outcome{r, err}
	})
	if err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}

	// The claim is synchronous: a second trigger is refused immediately.
	if err := h.importer.StartAsync(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second StartAsync() error = %v, want ErrRunInProgress", err)
	}

	select {
	case got := <-done:
		if got.err != nil || got.result.TotalImported != 7 {
			t.Errorf("outcome = %+v, want 7 imported", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async run did not finish")
	}
}

func TestWait_JoinsAsyncRun(t *testing.T) {
	h := newHarness(t, testCreds, testConfig(), testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.TimelinePage(1, 4, ""),
		Delay:      100 * time.Millisecond,
	})

	var finished bool
	err := h.importer.StartAsync(context.Background(), func(RunResult, error) {
		finished = true
	})
	if err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}

	h.importer.Wait()

	if !finished {
		t.Error("Wait() returned before the done callback ran")
	}
	if h.importer.Running() {
		t.Error("Running() = true after Wait()")
	}
	if total, _ := h.store.Total(context.Background()); total != 4 {
		t.Errorf("store total = %d, want 4", total)
	}
}

func TestWait_NoRun(t *testing.T) {
	h := newHarness(t, testCreds, testConfig())

	returned := make(chan struct{})
	go func() {
		h.importer.Wait()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Wait() blocked with no run started")
	}
}
