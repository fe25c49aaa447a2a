package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runbookops/runbookd/adapter"
	"github.com/runbookops/runbookd/core"
)

// fakeAdapter is a scriptable SourceAdapter for registry tests.
type fakeAdapter struct {
	name       string
	sourceType core.SourceType
	results    []core.SearchResult
	matches    []core.RunbookMatch
	documents  map[string]*core.Document
	runbooks   map[string]*core.Runbook
	searchErr  error
	calls      atomic.Int64
}

func (f *fakeAdapter) Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	f.calls.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeAdapter) SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error) {
	f.calls.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeAdapter) GetDocument(ctx context.Context, localID string) (*core.Document, error) {
	if doc, ok := f.documents[localID]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("document %q: %w", localID, core.ErrNotFound)
}

func (f *fakeAdapter) Runbook(id string) (*core.Runbook, bool) {
	rb, ok := f.runbooks[id]
	return rb, ok
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) core.HealthReport {
	return core.HealthReport{Healthy: f.searchErr == nil}
}

func (f *fakeAdapter) Metadata() core.SourceMetadata {
	return core.SourceMetadata{Name: f.name, Type: f.sourceType, DocumentCount: len(f.documents)}
}

func (f *fakeAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) { return false, nil }
func (f *fakeAdapter) Initialize(ctx context.Context) error                      { return nil }
func (f *fakeAdapter) Shutdown(ctx context.Context) error                        { return nil }

var _ adapter.SourceAdapter = (*fakeAdapter)(nil)

func register(t *testing.T, r *Registry, f *fakeAdapter, priority int) {
	t.Helper()
	cfg := core.SourceConfig{
		Name:       f.name,
		Type:       f.sourceType,
		Priority:   priority,
		Enabled:    true,
		TimeoutMS:  1000,
		MaxRetries: 0,
	}
	if err := r.Register(context.Background(), cfg, f); err != nil {
		t.Fatalf("registering %s: %v", f.name, err)
	}
}

func result(id string, st core.SourceType, source string, confidence float64, updated time.Time) core.SearchResult {
	return core.SearchResult{
		ID:          core.ComposeDocumentID(source, id),
		Source:      source,
		SourceType:  st,
		Confidence:  confidence,
		LastUpdated: updated,
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := New(Options{})
	register(t, r, &fakeAdapter{name: "a", sourceType: core.SourceTypeFile}, 1)

	err := r.Register(context.Background(), core.SourceConfig{Name: "a", Type: core.SourceTypeFile, TimeoutMS: 1000},
		&fakeAdapter{name: "a", sourceType: core.SourceTypeFile})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestAggregateSearchMergesAndSorts(t *testing.T) {
	now := time.Now()
	r := New(Options{})
	register(t, r, &fakeAdapter{
		name: "low-prio", sourceType: core.SourceTypeWiki,
		results: []core.SearchResult{result("doc-1", core.SourceTypeWiki, "low-prio", 0.8, now)},
	}, 5)
	register(t, r, &fakeAdapter{
		name: "high-prio", sourceType: core.SourceTypeFile,
		results: []core.SearchResult{result("doc-2", core.SourceTypeFile, "high-prio", 0.8, now)},
	}, 1)

	outcome, err := r.AggregateSearch(context.Background(), "anything", core.SearchFilters{}, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if outcome.SourcesQueried != 2 {
		t.Errorf("expected 2 sources queried, got %d", outcome.SourcesQueried)
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(outcome.Results))
	}
	// Equal confidence: the lower priority number wins.
	if outcome.Results[0].Source != "high-prio" {
		t.Errorf("expected high-prio source first, got %s", outcome.Results[0].Source)
	}
}

func TestAggregateSearchDeduplicates(t *testing.T) {
	now := time.Now()
	r := New(Options{})
	// Same source type and local id from two sources: one result survives.
	register(t, r, &fakeAdapter{
		name: "mirror-a", sourceType: core.SourceTypeWiki,
		results: []core.SearchResult{result("doc-1", core.SourceTypeWiki, "mirror-a", 0.6, now.Add(-time.Hour))},
	}, 1)
	register(t, r, &fakeAdapter{
		name: "mirror-b", sourceType: core.SourceTypeWiki,
		results: []core.SearchResult{result("doc-1", core.SourceTypeWiki, "mirror-b", 0.9, now)},
	}, 2)

	outcome, err := r.AggregateSearch(context.Background(), "anything", core.SearchFilters{}, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("expected 1 deduplicated result, got %d", len(outcome.Results))
	}
	if outcome.Results[0].Confidence != 0.9 {
		t.Errorf("expected the higher-confidence duplicate to win, got %f", outcome.Results[0].Confidence)
	}
}

func TestAggregateSearchPartialFailure(t *testing.T) {
	now := time.Now()
	r := New(Options{})
	register(t, r, &fakeAdapter{
		name: "healthy", sourceType: core.SourceTypeFile,
		results: []core.SearchResult{result("doc-1", core.SourceTypeFile, "healthy", 0.7, now)},
	}, 1)
	register(t, r, &fakeAdapter{
		name: "down", sourceType: core.SourceTypeWeb,
		searchErr: fmt.Errorf("backend down: %w", core.ErrSourceUnavailable),
	}, 2)

	outcome, err := r.AggregateSearch(context.Background(), "anything", core.SearchFilters{}, 0)
	if err != nil {
		t.Fatalf("partial failure must not fail the call: %v", err)
	}
	if len(outcome.Results) != 1 {
		t.Errorf("expected 1 result, got %d", len(outcome.Results))
	}
	if len(outcome.Failures) != 1 || outcome.Failures[0].Source != "down" {
		t.Fatalf("expected one failure annotation for 'down', got %+v", outcome.Failures)
	}
	if outcome.Failures[0].Code != "SOURCE_UNAVAILABLE" {
		t.Errorf("unexpected failure code %s", outcome.Failures[0].Code)
	}
}

func TestAggregateSearchAllPermanentFailures(t *testing.T) {
	r := New(Options{})
	register(t, r, &fakeAdapter{
		name: "broken", sourceType: core.SourceTypeWeb,
		searchErr: core.SourceErrorf("broken", "SOURCE_ERROR", "authentication rejected"),
	}, 1)

	outcome, err := r.AggregateSearch(context.Background(), "anything", core.SearchFilters{}, 0)
	if err == nil {
		t.Fatal("expected error when nothing usable and a permanent failure occurred")
	}
	if len(outcome.Failures) != 1 {
		t.Errorf("expected the failure annotation to survive, got %+v", outcome.Failures)
	}
}

func TestAggregateSearchSourceTypeFilter(t *testing.T) {
	now := time.Now()
	r := New(Options{})
	fileSrc := &fakeAdapter{
		name: "files", sourceType: core.SourceTypeFile,
		results: []core.SearchResult{result("doc-1", core.SourceTypeFile, "files", 0.7, now)},
	}
	wikiSrc := &fakeAdapter{
		name: "wiki", sourceType: core.SourceTypeWiki,
		results: []core.SearchResult{result("doc-2", core.SourceTypeWiki, "wiki", 0.7, now)},
	}
	register(t, r, fileSrc, 1)
	register(t, r, wikiSrc, 2)

	outcome, err := r.AggregateSearch(context.Background(), "anything",
		core.SearchFilters{SourceTypes: []core.SourceType{core.SourceTypeFile}}, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if outcome.SourcesQueried != 1 {
		t.Errorf("expected 1 source queried, got %d", outcome.SourcesQueried)
	}
	if wikiSrc.calls.Load() != 0 {
		t.Error("filtered-out source must not be called")
	}
}

func TestClampLimit(t *testing.T) {
	if limit, clamped := ClampLimit(0); limit != DefaultLimit || clamped {
		t.Errorf("zero limit: got %d clamped=%v", limit, clamped)
	}
	if limit, clamped := ClampLimit(500); limit != MaxLimit || !clamped {
		t.Errorf("oversized limit: got %d clamped=%v", limit, clamped)
	}
	if limit, clamped := ClampLimit(25); limit != 25 || clamped {
		t.Errorf("in-range limit: got %d clamped=%v", limit, clamped)
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	r := New(Options{})
	failing := &fakeAdapter{
		name: "flaky", sourceType: core.SourceTypeWeb,
		searchErr: fmt.Errorf("backend down: %w", core.ErrSourceUnavailable),
	}
	register(t, r, failing, 1)

	// Zero retry budget means a single attempt per call, so five calls
	// reach the failure threshold.
	for i := 0; i < 5; i++ {
		_, _ = r.AggregateSearch(context.Background(), "q", core.SearchFilters{}, 0)
	}

	states := r.BreakerStates()
	if states["flaky"] != "open" {
		t.Fatalf("expected open breaker, got %s", states["flaky"])
	}

	before := failing.calls.Load()
	outcome, _ := r.AggregateSearch(context.Background(), "q", core.SearchFilters{}, 0)
	if failing.calls.Load() != before {
		t.Error("open breaker must short-circuit the adapter call")
	}
	if len(outcome.Failures) != 1 || outcome.Failures[0].Code != "CIRCUIT_OPEN" {
		t.Errorf("expected CIRCUIT_OPEN annotation, got %+v", outcome.Failures)
	}
}

func TestRetryBudgetAddsToFirstAttempt(t *testing.T) {
	r := New(Options{})
	failing := &fakeAdapter{
		name: "flaky", sourceType: core.SourceTypeWeb,
		searchErr: fmt.Errorf("backend down: %w", core.ErrSourceUnavailable),
	}
	cfg := core.SourceConfig{
		Name:       failing.name,
		Type:       failing.sourceType,
		Enabled:    true,
		TimeoutMS:  1000,
		MaxRetries: 1,
	}
	if err := r.Register(context.Background(), cfg, failing); err != nil {
		t.Fatalf("registering %s: %v", failing.name, err)
	}

	// One retry on top of the first attempt: exactly two adapter calls.
	_, _ = r.AggregateSearch(context.Background(), "q", core.SearchFilters{}, 0)
	if got := failing.calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts (first + 1 retry), got %d", got)
	}
}

func TestGetDocumentRoutesBySource(t *testing.T) {
	r := New(Options{})
	register(t, r, &fakeAdapter{
		name: "files", sourceType: core.SourceTypeFile,
		documents: map[string]*core.Document{
			"guides/disk": {Source: "files", LocalID: "guides/disk", Title: "Disk"},
		},
	}, 1)

	doc, err := r.GetDocument(context.Background(), "files:guides/disk")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Title != "Disk" {
		t.Errorf("unexpected document %+v", doc)
	}

	if _, err := r.GetDocument(context.Background(), "ghost:doc"); !core.IsNotFound(err) {
		t.Errorf("unknown source should be not-found, got %v", err)
	}
	if _, err := r.GetDocument(context.Background(), "malformed"); !core.IsValidation(err) {
		t.Errorf("malformed id should be a validation error, got %v", err)
	}
}

func TestFindRunbookPrefersLowerPriority(t *testing.T) {
	shared := "rb-disk"
	r := New(Options{})
	register(t, r, &fakeAdapter{
		name: "secondary", sourceType: core.SourceTypeFile,
		runbooks: map[string]*core.Runbook{shared: {ID: shared, Source: "secondary"}},
	}, 5)
	register(t, r, &fakeAdapter{
		name: "primary", sourceType: core.SourceTypeFile,
		runbooks: map[string]*core.Runbook{shared: {ID: shared, Source: "primary"}},
	}, 1)

	rb, err := r.FindRunbook(context.Background(), shared)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if rb.Source != "primary" {
		t.Errorf("expected primary source to win, got %s", rb.Source)
	}

	if _, err := r.FindRunbook(context.Background(), "missing"); !core.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestUnregisterRemovesSource(t *testing.T) {
	r := New(Options{})
	register(t, r, &fakeAdapter{name: "a", sourceType: core.SourceTypeFile}, 1)

	if err := r.Unregister(context.Background(), "a"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
	if err := r.Unregister(context.Background(), "a"); !core.IsNotFound(err) {
		t.Errorf("expected not-found on second unregister, got %v", err)
	}
}
