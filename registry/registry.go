// Package registry owns the source adapters: lifecycle, per-source
// circuit breakers and retries, and the parallel fan-out that merges
// results across sources.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/runbookops/runbookd/adapter"
	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/resilience"
)

const (
	// DefaultLimit is the result cap applied when callers pass none.
	DefaultLimit = 10
	// MaxLimit is the hard result cap; larger requests are clamped.
	MaxLimit = 100
)

// ClampLimit normalizes a caller-supplied result limit and reports
// whether it was clamped down.
func ClampLimit(limit int) (int, bool) {
	if limit <= 0 {
		return DefaultLimit, false
	}
	if limit > MaxLimit {
		return MaxLimit, true
	}
	return limit, false
}

// SourceFailure records one source's failure during a fan-out. Callers
// surface these as partial-result annotations.
type SourceFailure struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// SearchOutcome is the merged answer of a federated document search.
type SearchOutcome struct {
	Results        []core.SearchResult `json:"results"`
	SourcesQueried int                 `json:"sources_queried"`
	Failures       []SourceFailure     `json:"failures,omitempty"`
	LimitClamped   bool                `json:"limit_clamped,omitempty"`
}

// RunbookOutcome is the merged answer of a federated runbook search.
type RunbookOutcome struct {
	Matches        []core.RunbookMatch `json:"matches"`
	SourcesQueried int                 `json:"sources_queried"`
	Failures       []SourceFailure     `json:"failures,omitempty"`
	LimitClamped   bool                `json:"limit_clamped,omitempty"`
}

// SourceStatus combines an adapter's metadata with its health and
// breaker state for the listing surface.
type SourceStatus struct {
	Metadata core.SourceMetadata    `json:"metadata"`
	Health   core.HealthReport      `json:"health"`
	Breaker  map[string]interface{} `json:"circuit_breaker"`
	Priority int                    `json:"priority"`
	Enabled  bool                   `json:"enabled"`
}

// runbookLookup is implemented by adapters that can resolve a runbook
// by id without a search.
type runbookLookup interface {
	Runbook(id string) (*core.Runbook, bool)
}

// runbookLister is implemented by adapters that index runbooks locally
// and can enumerate them.
type runbookLister interface {
	Runbooks() []*core.Runbook
}

type entry struct {
	cfg     core.SourceConfig
	adapter adapter.SourceAdapter
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
}

// Registry holds the registered adapters and mediates every call to
// them. Adapters never see each other; dedup and ordering happen here.
type Registry struct {
	logger core.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // registration order, for stable iteration
	closed  bool

	// maxParallel bounds concurrent source calls during fan-out.
	// Zero means one permit per registered source.
	maxParallel int64
}

// Options configures the registry.
type Options struct {
	Logger      core.Logger
	MaxParallel int
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	return &Registry{
		logger:      opts.Logger,
		entries:     make(map[string]*entry),
		maxParallel: int64(opts.MaxParallel),
	}
}

// Register initializes the adapter and adds it under its config name.
// A name can only be registered once.
func (r *Registry) Register(ctx context.Context, cfg core.SourceConfig, a adapter.SourceAdapter) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return core.ErrShuttingDown
	}
	if _, dup := r.entries[cfg.Name]; dup {
		r.mu.Unlock()
		return fmt.Errorf("source %q: %w", cfg.Name, core.ErrAlreadyRegistered)
	}
	r.mu.Unlock()

	if err := a.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing source %q: %w", cfg.Name, err)
	}

	breakerCfg := resilience.DefaultBreakerConfig(cfg.Name)
	breakerCfg.Logger = r.logger
	breaker, err := resilience.NewCircuitBreaker(breakerCfg)
	if err != nil {
		return err
	}

	e := &entry{
		cfg:     cfg,
		adapter: a,
		breaker: breaker,
		// max_retries is the retry budget on top of the first attempt.
		retry: resilience.DefaultRetryConfig(cfg.MaxRetries + 1),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrShuttingDown
	}
	if _, dup := r.entries[cfg.Name]; dup {
		return fmt.Errorf("source %q: %w", cfg.Name, core.ErrAlreadyRegistered)
	}
	r.entries[cfg.Name] = e
	r.order = append(r.order, cfg.Name)

	r.logger.Info("Source registered", map[string]interface{}{
		"operation": "registry_register",
		"source":    cfg.Name,
		"type":      string(cfg.Type),
		"priority":  cfg.Priority,
	})
	return nil
}

// Unregister shuts the adapter down and removes it.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("source %q: %w", name, core.ErrNotFound)
	}
	if err := e.adapter.Shutdown(ctx); err != nil {
		r.logger.Warn("Source shutdown failed", map[string]interface{}{
			"operation": "registry_unregister",
			"source":    name,
			"error":     err.Error(),
		})
	}
	return nil
}

// Close shuts down every adapter in reverse registration order.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	names := make([]string, len(r.order))
	copy(names, r.order)
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		e := entries[names[i]]
		if err := e.adapter.Shutdown(ctx); err != nil {
			r.logger.Warn("Source shutdown failed", map[string]interface{}{
				"operation": "registry_close",
				"source":    names[i],
				"error":     err.Error(),
			})
		}
	}
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// snapshot returns the current entries in registration order.
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// call runs fn against one source with the full protection stack:
// per-call timeout inside the breaker, retries outside it. Breaker
// rejections are not retried, the circuit cannot close mid-call.
func (r *Registry) call(ctx context.Context, e *entry, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, e.retry, func(ctx context.Context) error {
		return e.breaker.Execute(ctx, e.cfg.Timeout(), fn)
	})
}

// AggregateSearch fans a document search out to every registered source
// the filters allow, merges and deduplicates the results, and returns
// them ordered by confidence, source priority, then recency.
//
// Sources that fail contribute a SourceFailure annotation instead of
// sinking the whole call. The call errors only when nothing was usable
// and at least one source failed permanently.
func (r *Registry) AggregateSearch(ctx context.Context, query string, filters core.SearchFilters, limit int) (*SearchOutcome, error) {
	limit, clamped := ClampLimit(limit)

	entries := r.eligible(filters)
	outcome := &SearchOutcome{SourcesQueried: len(entries), LimitClamped: clamped}
	if len(entries) == 0 {
		outcome.Results = []core.SearchResult{}
		return outcome, nil
	}

	type sourceResult struct {
		entry   *entry
		results []core.SearchResult
		err     error
	}

	collected := r.fanOut(ctx, entries, func(ctx context.Context, e *entry) interface{} {
		var results []core.SearchResult
		err := r.call(ctx, e, func(ctx context.Context) error {
			var callErr error
			results, callErr = e.adapter.Search(ctx, query, filters)
			return callErr
		})
		return sourceResult{entry: e, results: results, err: err}
	})

	merged := make(map[string]core.SearchResult)
	var permanentFailure bool
	for _, raw := range collected {
		sr := raw.(sourceResult)
		if sr.err != nil {
			if core.IsPermanent(sr.err) {
				permanentFailure = true
			}
			outcome.Failures = append(outcome.Failures, SourceFailure{
				Source: sr.entry.cfg.Name,
				Code:   core.ErrorCode(sr.err),
				Error:  sr.err.Error(),
			})
			continue
		}
		for _, res := range sr.results {
			mergeResult(merged, res)
		}
	}

	results := make([]core.SearchResult, 0, len(merged))
	for _, res := range merged {
		results = append(results, res)
	}
	r.sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	outcome.Results = results

	if len(results) == 0 && permanentFailure {
		return outcome, fmt.Errorf("all usable sources failed: %w", core.ErrSourceError)
	}
	return outcome, nil
}

// AggregateRunbookSearch fans a runbook search out across sources and
// merges the matches the same way AggregateSearch merges documents.
func (r *Registry) AggregateRunbookSearch(ctx context.Context, sig core.AlertSignature, limit int) (*RunbookOutcome, error) {
	limit, clamped := ClampLimit(limit)

	entries := r.snapshot()
	outcome := &RunbookOutcome{SourcesQueried: len(entries), LimitClamped: clamped}
	if len(entries) == 0 {
		outcome.Matches = []core.RunbookMatch{}
		return outcome, nil
	}

	type sourceResult struct {
		entry   *entry
		matches []core.RunbookMatch
		err     error
	}

	collected := r.fanOut(ctx, entries, func(ctx context.Context, e *entry) interface{} {
		var matches []core.RunbookMatch
		err := r.call(ctx, e, func(ctx context.Context) error {
			var callErr error
			matches, callErr = e.adapter.SearchRunbooks(ctx, sig)
			return callErr
		})
		return sourceResult{entry: e, matches: matches, err: err}
	})

	merged := make(map[string]core.RunbookMatch)
	var permanentFailure bool
	for _, raw := range collected {
		sr := raw.(sourceResult)
		if sr.err != nil {
			if core.IsPermanent(sr.err) {
				permanentFailure = true
			}
			outcome.Failures = append(outcome.Failures, SourceFailure{
				Source: sr.entry.cfg.Name,
				Code:   core.ErrorCode(sr.err),
				Error:  sr.err.Error(),
			})
			continue
		}
		for _, m := range sr.matches {
			mergeMatch(merged, sr.entry.cfg.Type, m)
		}
	}

	matches := make([]core.RunbookMatch, 0, len(merged))
	for _, m := range merged {
		matches = append(matches, m)
	}
	r.sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	outcome.Matches = matches

	if len(matches) == 0 && permanentFailure {
		return outcome, fmt.Errorf("all usable sources failed: %w", core.ErrSourceError)
	}
	return outcome, nil
}

// GetDocument resolves a federated document id to its source and
// fetches the document through the protection stack.
func (r *Registry) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	source, localID, err := core.SplitDocumentID(id)
	if err != nil {
		return nil, err
	}
	e, ok := r.lookup(source)
	if !ok {
		return nil, fmt.Errorf("unknown source %q in document id: %w", source, core.ErrNotFound)
	}

	var doc *core.Document
	err = r.call(ctx, e, func(ctx context.Context) error {
		var callErr error
		doc, callErr = e.adapter.GetDocument(ctx, localID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindRunbook resolves a runbook id across sources. Sources that index
// runbooks locally answer directly; sources without identity lookup are
// skipped.
func (r *Registry) FindRunbook(ctx context.Context, id string) (*core.Runbook, error) {
	var found *core.Runbook
	for _, e := range r.snapshot() {
		lookup, ok := e.adapter.(runbookLookup)
		if !ok {
			continue
		}
		rb, ok := lookup.Runbook(id)
		if !ok {
			continue
		}
		// Lowest priority number wins when several sources carry the id.
		if found == nil {
			found = rb
			continue
		}
		if fe, ok := r.lookup(found.Source); ok && e.cfg.Priority < fe.cfg.Priority {
			found = rb
		}
	}
	if found == nil {
		return nil, fmt.Errorf("runbook %q: %w", id, core.ErrNotFound)
	}
	return found, nil
}

// AllRunbooks enumerates runbooks across every source that indexes
// them locally, deduplicated on (source type, id) keeping the source
// with the lower priority number.
func (r *Registry) AllRunbooks() []*core.Runbook {
	seen := make(map[string]*core.Runbook)
	for _, e := range r.snapshot() {
		lister, ok := e.adapter.(runbookLister)
		if !ok {
			continue
		}
		for _, rb := range lister.Runbooks() {
			key := string(e.cfg.Type) + "|" + rb.ID
			existing, dup := seen[key]
			if !dup {
				seen[key] = rb
				continue
			}
			if fe, ok := r.lookup(existing.Source); ok && e.cfg.Priority < fe.cfg.Priority {
				seen[key] = rb
			}
		}
	}

	out := make([]*core.Runbook, 0, len(seen))
	for _, rb := range seen {
		out = append(out, rb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthCheckAll probes every source in parallel. Probes run outside
// the breakers so an open circuit can still observe recovery.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]core.HealthReport {
	entries := r.snapshot()
	reports := make(map[string]core.HealthReport, len(entries))
	if len(entries) == 0 {
		return reports
	}

	type probe struct {
		name   string
		report core.HealthReport
	}
	collected := r.fanOut(ctx, entries, func(ctx context.Context, e *entry) interface{} {
		probeCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
		defer cancel()
		return probe{name: e.cfg.Name, report: e.adapter.HealthCheck(probeCtx)}
	})
	for _, raw := range collected {
		p := raw.(probe)
		reports[p.name] = p.report
	}
	return reports
}

// RefreshAll asks every source to refresh its index.
func (r *Registry) RefreshAll(ctx context.Context, force bool) {
	for _, e := range r.snapshot() {
		if _, err := e.adapter.RefreshIndex(ctx, force); err != nil {
			r.logger.Warn("Index refresh failed", map[string]interface{}{
				"operation": "registry_refresh",
				"source":    e.cfg.Name,
				"error":     err.Error(),
			})
		}
	}
}

// Statuses reports metadata, health and breaker state for every source.
func (r *Registry) Statuses(ctx context.Context) []SourceStatus {
	reports := r.HealthCheckAll(ctx)
	entries := r.snapshot()

	out := make([]SourceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, SourceStatus{
			Metadata: e.adapter.Metadata(),
			Health:   reports[e.cfg.Name],
			Breaker:  e.breaker.Metrics(),
			Priority: e.cfg.Priority,
			Enabled:  e.cfg.Enabled,
		})
	}
	return out
}

// BreakerStates returns the circuit state per source.
func (r *Registry) BreakerStates() map[string]string {
	out := make(map[string]string)
	for _, e := range r.snapshot() {
		out[e.cfg.Name] = e.breaker.State().String()
	}
	return out
}

// eligible filters registered sources by the search filters' type list.
func (r *Registry) eligible(filters core.SearchFilters) []*entry {
	all := r.snapshot()
	out := make([]*entry, 0, len(all))
	for _, e := range all {
		if filters.AllowsSourceType(e.cfg.Type) {
			out = append(out, e)
		}
	}
	return out
}

// fanOut runs fn against every entry in parallel, bounded by the
// registry's semaphore, and collects the answers.
func (r *Registry) fanOut(ctx context.Context, entries []*entry, fn func(ctx context.Context, e *entry) interface{}) []interface{} {
	permits := r.maxParallel
	if permits <= 0 {
		permits = int64(len(entries))
	}
	sem := semaphore.NewWeighted(permits)

	results := make([]interface{}, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			results[i] = fn(ctx, e)
		}(i, e)
	}
	wg.Wait()

	// Drop slots cancelled before acquiring a permit.
	out := results[:0]
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}

// mergeResult deduplicates on (source type, local id): keep the higher
// confidence, break ties toward the fresher result.
func mergeResult(merged map[string]core.SearchResult, res core.SearchResult) {
	_, localID, err := core.SplitDocumentID(res.ID)
	if err != nil {
		localID = res.ID
	}
	key := string(res.SourceType) + "|" + localID

	existing, ok := merged[key]
	if !ok {
		merged[key] = res
		return
	}
	if res.Confidence > existing.Confidence ||
		(res.Confidence == existing.Confidence && res.LastUpdated.After(existing.LastUpdated)) {
		merged[key] = res
	}
}

// mergeMatch deduplicates runbook matches on (source type, runbook id).
func mergeMatch(merged map[string]core.RunbookMatch, sourceType core.SourceType, m core.RunbookMatch) {
	key := string(sourceType) + "|" + m.Runbook.ID

	existing, ok := merged[key]
	if !ok {
		merged[key] = m
		return
	}
	if m.Confidence > existing.Confidence ||
		(m.Confidence == existing.Confidence && m.Runbook.LastUpdated.After(existing.Runbook.LastUpdated)) {
		merged[key] = m
	}
}

// sortResults orders by confidence, then source priority (lower number
// preferred), then recency.
func (r *Registry) sortResults(results []core.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		pi, pj := r.priorityOf(results[i].Source), r.priorityOf(results[j].Source)
		if pi != pj {
			return pi < pj
		}
		return results[i].LastUpdated.After(results[j].LastUpdated)
	})
}

func (r *Registry) sortMatches(matches []core.RunbookMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		pi, pj := r.priorityOf(matches[i].Runbook.Source), r.priorityOf(matches[j].Runbook.Source)
		if pi != pj {
			return pi < pj
		}
		return matches[i].Runbook.LastUpdated.After(matches[j].Runbook.LastUpdated)
	})
}

func (r *Registry) priorityOf(source string) int {
	if e, ok := r.lookup(source); ok {
		return e.cfg.Priority
	}
	// Unknown sources sort last.
	return int(^uint(0) >> 1)
}
