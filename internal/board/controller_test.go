package board

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var kst = time.FixedZone("KST", 9*60*60)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingSleeper struct {
	sleeps []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) {
	s.sleeps = append(s.sleeps, d)
}

func (s *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range s.sleeps {
		sum += d
	}
	return sum
}

// fakeNavigator serves scripted listings and details, with per-URL and
// per-operation stall counters to exercise the recovery protocol.
type fakeNavigator struct {
	listings      map[int][]ItemRef
	details       map[string]map[string]string
	detailStalls  map[string]int
	listingStalls int
	advanceStalls int
	extractFail   map[string]bool

	advanceCalls int
	rootCalls    int
	reloadCalls  int
	rootErr      error
}

func newFakeNavigator() *fakeNavigator {
	return &fakeNavigator{
		listings:     make(map[int][]ItemRef),
		details:      make(map[string]map[string]string),
		detailStalls: make(map[string]int),
		extractFail:  make(map[string]bool),
	}
}

func (f *fakeNavigator) FetchListing(_ context.Context, page int) ([]ItemRef, error) {
	if f.listingStalls > 0 {
		f.listingStalls--
		return nil, fmt.Errorf("fetch listing %d: %w", page, ErrNavigationTimeout)
	}
	return f.listings[page], nil
}

func (f *fakeNavigator) FetchDetail(_ context.Context, url string) (Content, error) {
	if n := f.detailStalls[url]; n > 0 {
		f.detailStalls[url] = n - 1
		return nil, fmt.Errorf("fetch detail %s: %w", url, ErrNavigationTimeout)
	}
	return url, nil
}

func (f *fakeNavigator) Extract(_ context.Context, c Content) (map[string]string, error) {
	url, ok := c.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected content %T: %w", c, ErrExtraction)
	}
	if f.extractFail[url] {
		return nil, fmt.Errorf("extract %s: %w", url, ErrExtraction)
	}
	if fields, ok := f.details[url]; ok {
		return fields, nil
	}
	return map[string]string{"url": url}, nil
}

func (f *fakeNavigator) AdvancePage(_ context.Context, page int) error {
	if f.advanceStalls > 0 {
		f.advanceStalls--
		return fmt.Errorf("advance page %d: %w", page, ErrNavigationTimeout)
	}
	f.advanceCalls++
	return nil
}

func (f *fakeNavigator) OpenRoot(context.Context) error {
	f.rootCalls++
	return f.rootErr
}

func (f *fakeNavigator) Reload(context.Context) error {
	f.reloadCalls++
	return nil
}

func (f *fakeNavigator) Close(context.Context) error { return nil }

type sessionFixture struct {
	controller *Controller
	visited    *VisitedStore
	sink       *JSONLSink
	sleeper    *recordingSleeper
	sinkPath   string
}

func newSessionFixture(t *testing.T, dir string, nav Navigator, clock Clock, backoffCfg BackoffConfig) *sessionFixture {
	t.Helper()

	logger := zap.NewNop()
	visitedPath := filepath.Join(dir, "visited.json")
	sinkPath := filepath.Join(dir, "posts.jsonl")

	visited, err := LoadVisitedStore(visitedPath, logger)
	require.NoError(t, err)
	sink, err := OpenJSONLSink(sinkPath, logger)
	require.NoError(t, err)

	sleeper := &recordingSleeper{}
	cutoff := NewCutoffPolicy(7*24*time.Hour, clock, kst)
	backoff := NewBackoffScheduler(backoffCfg, rand.New(rand.NewSource(42)))
	recovery := NewRecoveryProtocol(nav, sleeper, 15*time.Minute, logger)

	controller := NewController(
		"community", "test-session", nav,
		visited, sink, cutoff, backoff, recovery, sleeper, clock, logger,
	)
	return &sessionFixture{
		controller: controller,
		visited:    visited,
		sink:       sink,
		sleeper:    sleeper,
		sinkPath:   sinkPath,
	}
}

func readArtifactIDs(t *testing.T, path string) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ids []int64
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		ids = append(ids, rec.ID)
	}
	return ids
}

func item(id int64, ts string) ItemRef {
	return ItemRef{
		ID:           id,
		URL:          fmt.Sprintf("https://example.com/board/%d", id),
		RawTimestamp: ts,
		Title:        fmt.Sprintf("post %d", id),
	}
}

func TestController_ExhaustionIngestsEverything(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "오늘")}
	nav.listings[2] = []ItemRef{item(7, "어제"), item(6, "어제")}

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	require.Equal(t, []int64{9, 8, 7, 6}, readArtifactIDs(t, fx.sinkPath))
	require.True(t, fx.visited.Has(6))
	require.Equal(t, 2, nav.advanceCalls)
}

func TestController_ResumabilityAcrossRuns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}

	buildNav := func() *fakeNavigator {
		nav := newFakeNavigator()
		nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "오늘")}
		nav.listings[2] = []ItemRef{item(7, "어제")}
		return nav
	}

	fx := newSessionFixture(t, dir, buildNav(), clock, BackoffConfig{})
	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	// Second run against the same fixture: everything already visited, so
	// nothing is appended and the artifact stays duplicate-free.
	fx2 := newSessionFixture(t, dir, buildNav(), clock, BackoffConfig{})
	outcome, err = fx2.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx2.sink.Close())

	ids := readArtifactIDs(t, fx.sinkPath)
	require.Equal(t, []int64{9, 8, 7}, ids)
	seen := make(map[int64]bool)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate id %d in artifact", id)
		seen[id] = true
	}
}

func TestController_CutoffStopsPagination(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	// 06.01 is older than the 7-day window ending 06.15; pagination must
	// stop there, not merely skip the item.
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "2025.06.10"), item(7, "2025.06.01")}
	nav.listings[2] = []ItemRef{item(6, "2025.05.20")}

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeCutoff, outcome)
	require.NoError(t, fx.sink.Close())

	require.Equal(t, []int64{9, 8}, readArtifactIDs(t, fx.sinkPath))
	require.Zero(t, nav.advanceCalls, "pagination must stop at the cutoff")
}

func TestController_SessionCeilingExcludesNewerItems(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "오늘")}
	// A newer post (id 12) surfaces on page 2 after the ceiling was fixed
	// at 9; it must not be ingested this session.
	nav.listings[2] = []ItemRef{item(12, "오늘"), item(5, "어제")}

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	require.Equal(t, []int64{9, 8, 5}, readArtifactIDs(t, fx.sinkPath))
	require.False(t, fx.visited.Has(12))
}

func TestController_UnparsableTimestampSkipsItemOnly(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "not a date"), item(7, "어제")}

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	require.Equal(t, []int64{9, 7}, readArtifactIDs(t, fx.sinkPath))
}

func TestController_ExtractionFailureSkipsItemOnly(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "오늘")}
	nav.extractFail["https://example.com/board/9"] = true

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	require.Equal(t, []int64{8}, readArtifactIDs(t, fx.sinkPath))
	require.False(t, fx.visited.Has(9), "failed extraction must not be marked visited")
}

func TestController_SingleStallRecoversAndIngests(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘")}
	nav.detailStalls["https://example.com/board/9"] = 1

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	require.Equal(t, []int64{9}, readArtifactIDs(t, fx.sinkPath))
	require.Equal(t, 1, nav.rootCalls, "recovery must return to the listing root")
	require.Contains(t, fx.sleeper.sleeps, 15*time.Minute, "recovery must wait before retrying")
}

func TestController_DoubleStallIsFatalAndConsistent(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘")}
	nav.detailStalls["https://example.com/board/9"] = 2

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	fx := newSessionFixture(t, t.TempDir(), nav, clock, BackoffConfig{})

	outcome, err := fx.controller.Run(context.Background())
	require.ErrorIs(t, err, ErrFatalStall)
	require.Equal(t, OutcomeFatal, outcome)
	require.NoError(t, fx.sink.Close())

	// No orphaned visited-mark and no partial record.
	require.False(t, fx.visited.Has(9))
	data, rerr := os.ReadFile(fx.sinkPath)
	require.NoError(t, rerr)
	require.Empty(t, strings.TrimSpace(string(data)))
}

func TestController_AllVisitedPageSkipsPageDelay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "오늘")}

	cfg := BackoffConfig{
		PageDelayMin: time.Minute,
		PageDelayMax: time.Minute,
	}

	fx := newSessionFixture(t, dir, nav, clock, cfg)
	require.NoError(t, fx.visited.Add(9))
	require.NoError(t, fx.visited.Add(8))

	outcome, err := fx.controller.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExhausted, outcome)
	require.NoError(t, fx.sink.Close())

	require.Zero(t, fx.sleeper.total(), "resuming through visited history must not sleep")
	require.Equal(t, 1, nav.advanceCalls)
}

func TestController_InterruptLeavesDurableState(t *testing.T) {
	t.Parallel()

	nav := newFakeNavigator()
	nav.listings[1] = []ItemRef{item(9, "오늘"), item(8, "오늘")}

	clock := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, kst)}
	dir := t.TempDir()
	fx := newSessionFixture(t, dir, nav, clock, BackoffConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel during the first post-ingest sleep.
	fx.controller.sleeper = sleepThenCancel{cancel: cancel}

	outcome, err := fx.controller.Run(ctx)
	require.Error(t, err)
	require.Equal(t, OutcomeInterrupted, outcome)
	require.NoError(t, fx.sink.Close())

	// Whatever was ingested before the interrupt is durable and consistent.
	ids := readArtifactIDs(t, fx.sinkPath)
	require.NotEmpty(t, ids)
	for _, id := range ids {
		require.True(t, fx.visited.Has(id))
	}
}

type sleepThenCancel struct {
	cancel context.CancelFunc
}

func (s sleepThenCancel) Sleep(context.Context, time.Duration) {
	s.cancel()
}
