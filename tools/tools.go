// Package tools implements the named operations shared by the HTTP
// surface and the tool-call protocol. Every operation answers with an
// envelope carrying success, timing and an optional confidence.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/runbookops/runbookd/cache"
	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/query"
	"github.com/runbookops/runbookd/registry"
)

// Envelope is the uniform operation result.
type Envelope struct {
	Success         bool        `json:"success"`
	Message         string      `json:"message,omitempty"`
	RetrievalTimeMS int64       `json:"retrieval_time_ms"`
	Timestamp       time.Time   `json:"timestamp"`
	Data            interface{} `json:"data,omitempty"`
	Confidence      *float64    `json:"confidence,omitempty"`
	Cached          bool        `json:"cached"`
}

// MetricsRecorder receives per-operation timing observations.
type MetricsRecorder interface {
	ObserveOperation(op string, d time.Duration, success bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, bool) {}

// Options wires the tool layer's collaborators.
type Options struct {
	Registry   *registry.Registry
	Cache      *cache.HybridCache // nil disables memoization
	Processor  *query.Processor
	Feedback   FeedbackStore
	Escalation map[string]core.EscalationTier
	Logger     core.Logger
	Metrics    MetricsRecorder
}

// Tools is the operation set. One instance serves both surfaces.
type Tools struct {
	registry   *registry.Registry
	cache      *cache.HybridCache
	processor  *query.Processor
	feedback   FeedbackStore
	escalation map[string]core.EscalationTier
	logger     core.Logger
	metrics    MetricsRecorder
}

// New assembles the tool layer.
func New(opts Options) *Tools {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Feedback == nil {
		opts.Feedback = NewMemoryFeedbackStore(0)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if len(opts.Escalation) == 0 {
		opts.Escalation = defaultEscalation()
	}
	return &Tools{
		registry:   opts.Registry,
		cache:      opts.Cache,
		processor:  opts.Processor,
		feedback:   opts.Feedback,
		escalation: opts.Escalation,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// SearchRunbooksInput selects runbooks for a firing alert.
type SearchRunbooksInput struct {
	AlertType       string   `json:"alert_type"`
	Severity        string   `json:"severity"`
	AffectedSystems []string `json:"affected_systems"`
	Context         string   `json:"context,omitempty"`
	MaxResults      int      `json:"max_results,omitempty"`
}

// RunbookSearchData is the search-runbooks payload.
type RunbookSearchData struct {
	Runbooks         []*core.Runbook          `json:"runbooks"`
	ConfidenceScores []float64                `json:"confidence_scores"`
	MatchReasons     [][]string               `json:"match_reasons"`
	SourcesQueried   int                      `json:"sources_queried"`
	SourcesFailed    []registry.SourceFailure `json:"sources_failed,omitempty"`
	LimitClamped     bool                     `json:"limit_clamped,omitempty"`
	Enrichment       *query.Outcome           `json:"enrichment,omitempty"`
}

// SearchRunbooks finds runbooks matching an alert signature across all
// sources, enriched by the query processor and memoized per signature.
func (t *Tools) SearchRunbooks(ctx context.Context, in SearchRunbooksInput) (*Envelope, error) {
	const op = "search-runbooks"
	start := time.Now()

	v := &fieldValidator{}
	v.required("alert_type", in.AlertType)
	v.required("severity", in.Severity)
	v.requiredList("affected_systems", in.AffectedSystems)
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}
	severity, err := core.ParseSeverity(in.Severity)
	if err != nil {
		v.invalid("severity", "must be one of info, low, medium, high, critical")
		return nil, t.fail(op, start, v.err())
	}

	key := fingerprint("runbooks", in.AlertType, string(severity), strings.Join(in.AffectedSystems, ","), in.Context, fmt.Sprint(in.MaxResults))
	if data, ok := t.cacheGet(ctx, core.ContentTypeRunbooks, key, &RunbookSearchData{}); ok {
		payload := data.(*RunbookSearchData)
		return t.finish(op, start, payload, topScore(payload.ConfidenceScores), true), nil
	}

	enrichment := t.enrich(ctx, query.Request{
		Query:           in.AlertType,
		Context:         in.Context,
		Severity:        severity,
		AffectedSystems: in.AffectedSystems,
	})

	sig := core.AlertSignature{
		AlertType:       in.AlertType,
		Severity:        severity,
		AffectedSystems: in.AffectedSystems,
		Context:         in.Context,
	}
	outcome, err := t.registry.AggregateRunbookSearch(ctx, sig, in.MaxResults)
	if err != nil {
		return nil, t.fail(op, start, err)
	}

	data := &RunbookSearchData{
		Runbooks:         make([]*core.Runbook, 0, len(outcome.Matches)),
		ConfidenceScores: make([]float64, 0, len(outcome.Matches)),
		MatchReasons:     make([][]string, 0, len(outcome.Matches)),
		SourcesQueried:   outcome.SourcesQueried,
		SourcesFailed:    outcome.Failures,
		LimitClamped:     outcome.LimitClamped,
		Enrichment:       enrichment,
	}
	for _, m := range outcome.Matches {
		data.Runbooks = append(data.Runbooks, decorateRunbook(m.Runbook, t.feedback))
		data.ConfidenceScores = append(data.ConfidenceScores, m.Confidence)
		data.MatchReasons = append(data.MatchReasons, m.MatchReasons)
	}

	// Partial answers are never memoized: a recovered source shows up
	// on the next call instead of replaying stale failure annotations.
	if len(outcome.Failures) == 0 {
		t.cacheSet(ctx, core.ContentTypeRunbooks, key, data)
	}
	return t.finish(op, start, data, topScore(data.ConfidenceScores), false), nil
}

// DecisionTreeInput selects a runbook's decision tree.
type DecisionTreeInput struct {
	RunbookID string `json:"runbook_id"`
	Scenario  string `json:"scenario,omitempty"`
}

// DecisionTreeData is the get-decision-tree payload.
type DecisionTreeData struct {
	RunbookID      string             `json:"runbook_id"`
	Tree           *core.DecisionTree `json:"decision_tree"`
	Confidence     float64            `json:"confidence"`
	ContextApplied bool               `json:"context_applied"`
	Scenario       string             `json:"scenario,omitempty"`
}

// GetDecisionTree returns the decision tree embedded in a runbook.
func (t *Tools) GetDecisionTree(ctx context.Context, in DecisionTreeInput) (*Envelope, error) {
	const op = "get-decision-tree"
	start := time.Now()

	v := &fieldValidator{}
	v.required("runbook_id", in.RunbookID)
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}

	key := fingerprint("tree", in.RunbookID, in.Scenario)
	if data, ok := t.cacheGet(ctx, core.ContentTypeDecisionTrees, key, &DecisionTreeData{}); ok {
		payload := data.(*DecisionTreeData)
		return t.finish(op, start, payload, &payload.Confidence, true), nil
	}

	rb, err := t.registry.FindRunbook(ctx, in.RunbookID)
	if err != nil {
		return nil, t.fail(op, start, err)
	}
	if rb.DecisionTree == nil {
		return nil, t.fail(op, start, fmt.Errorf("runbook %q has no decision tree: %w", in.RunbookID, core.ErrNotFound))
	}

	data := &DecisionTreeData{
		RunbookID:      rb.ID,
		Tree:           rb.DecisionTree,
		Confidence:     rb.Metadata.Confidence,
		ContextApplied: in.Scenario != "",
		Scenario:       in.Scenario,
	}
	t.cacheSet(ctx, core.ContentTypeDecisionTrees, key, data)
	return t.finish(op, start, data, &data.Confidence, false), nil
}

// ProcedureInput selects one procedure step. The id format is
// <runbook-id>_<step-name>.
type ProcedureInput struct {
	ProcedureID string `json:"procedure_id"`
}

// ProcedureData is the get-procedure payload.
type ProcedureData struct {
	RunbookID    string               `json:"runbook_id"`
	Step         core.ProcedureStep   `json:"procedure"`
	RelatedSteps []core.ProcedureStep `json:"related_steps,omitempty"`
	Confidence   float64              `json:"confidence"`
}

// GetProcedure resolves a composite procedure id. Runbook ids may
// themselves contain underscores, so every split point is tried until
// one names an existing runbook with a matching step.
func (t *Tools) GetProcedure(ctx context.Context, in ProcedureInput) (*Envelope, error) {
	const op = "get-procedure"
	start := time.Now()

	v := &fieldValidator{}
	v.required("procedure_id", in.ProcedureID)
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}
	if !strings.Contains(in.ProcedureID, "_") {
		v.invalid("procedure_id", "expected format <runbook-id>_<step-name>")
		v.action("Use an id of the form <runbook-id>_<step-name>, e.g. rb-disk-space_check-usage")
		return nil, t.fail(op, start, v.err())
	}

	key := fingerprint("procedure", in.ProcedureID)
	if data, ok := t.cacheGet(ctx, core.ContentTypeProcedures, key, &ProcedureData{}); ok {
		payload := data.(*ProcedureData)
		return t.finish(op, start, payload, &payload.Confidence, true), nil
	}

	rb, step, err := t.resolveProcedure(ctx, in.ProcedureID)
	if err != nil {
		return nil, t.fail(op, start, err)
	}

	data := &ProcedureData{
		RunbookID:    rb.ID,
		Step:         *step,
		RelatedSteps: relatedSteps(rb, step),
		Confidence:   rb.Metadata.Confidence,
	}
	t.cacheSet(ctx, core.ContentTypeProcedures, key, data)
	return t.finish(op, start, data, &data.Confidence, false), nil
}

func (t *Tools) resolveProcedure(ctx context.Context, procedureID string) (*core.Runbook, *core.ProcedureStep, error) {
	for idx := strings.Index(procedureID, "_"); idx > 0; {
		runbookID, stepName := procedureID[:idx], procedureID[idx+1:]
		if rb, err := t.registry.FindRunbook(ctx, runbookID); err == nil {
			for i := range rb.Procedures {
				p := &rb.Procedures[i]
				if p.ID == stepName || p.Name == stepName {
					return rb, p, nil
				}
			}
		}
		next := strings.Index(procedureID[idx+1:], "_")
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return nil, nil, fmt.Errorf("procedure %q: %w", procedureID, core.ErrNotFound)
}

// relatedSteps gathers the step's prerequisites and its dependents.
func relatedSteps(rb *core.Runbook, step *core.ProcedureStep) []core.ProcedureStep {
	wanted := make(map[string]bool, len(step.Prerequisites))
	for _, pre := range step.Prerequisites {
		wanted[pre] = true
	}

	var out []core.ProcedureStep
	for _, p := range rb.Procedures {
		if p.ID == step.ID {
			continue
		}
		if wanted[p.ID] {
			out = append(out, p)
			continue
		}
		for _, pre := range p.Prerequisites {
			if pre == step.ID {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// EscalationInput selects an escalation path.
type EscalationInput struct {
	Severity       string `json:"severity"`
	System         string `json:"system,omitempty"`
	BusinessHours  *bool  `json:"business_hours,omitempty"`
	FailedAttempts int    `json:"failed_attempts,omitempty"`
}

// EscalationData is the get-escalation-path payload.
type EscalationData struct {
	Severity            core.Severity            `json:"severity"`
	Escalated           bool                     `json:"escalated,omitempty"`
	Contacts            []core.EscalationContact `json:"contacts"`
	Procedure           string                   `json:"procedure"`
	ResponseTimeMinutes int                      `json:"estimated_response_minutes"`
}

// GetEscalationPath returns who to page for a severity band. Two or
// more failed resolution attempts escalate one severity level.
func (t *Tools) GetEscalationPath(ctx context.Context, in EscalationInput) (*Envelope, error) {
	const op = "get-escalation-path"
	start := time.Now()

	v := &fieldValidator{}
	v.required("severity", in.Severity)
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}
	severity, err := core.ParseSeverity(in.Severity)
	if err != nil {
		v.invalid("severity", "must be one of info, low, medium, high, critical")
		return nil, t.fail(op, start, v.err())
	}

	effective := severity
	escalated := false
	if in.FailedAttempts >= 2 && severity != core.SeverityCritical {
		effective = bumpSeverity(severity)
		escalated = true
	}

	tier, ok := t.escalation[string(effective)]
	if !ok {
		tier = t.escalation[string(core.SeverityMedium)]
	}

	contacts := tier.Contacts
	if in.BusinessHours != nil && !*in.BusinessHours && len(tier.AfterHoursContacts) > 0 {
		contacts = tier.AfterHoursContacts
	}

	data := &EscalationData{
		Severity:            effective,
		Escalated:           escalated,
		Contacts:            contacts,
		Procedure:           tier.Procedure,
		ResponseTimeMinutes: tier.ResponseTimeMinutes,
	}
	return t.finish(op, start, data, nil, false), nil
}

// SourcesData is the list-sources payload.
type SourcesData struct {
	Sources []registry.SourceStatus `json:"sources"`
	Count   int                     `json:"count"`
}

// ListSources reports per-source metadata, health and breaker state.
func (t *Tools) ListSources(ctx context.Context) (*Envelope, error) {
	const op = "list-sources"
	start := time.Now()

	statuses := t.registry.Statuses(ctx)
	data := &SourcesData{Sources: statuses, Count: len(statuses)}
	return t.finish(op, start, data, nil, false), nil
}

// KnowledgeSearchInput is a free-text federated search.
type KnowledgeSearchInput struct {
	Query      string   `json:"query"`
	Categories []string `json:"categories,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// KnowledgeSearchData is the search-knowledge-base payload.
type KnowledgeSearchData struct {
	Results             []core.SearchResult      `json:"results"`
	AggregateConfidence float64                  `json:"aggregate_confidence"`
	SourcesQueried      int                      `json:"sources_queried"`
	SourcesFailed       []registry.SourceFailure `json:"sources_failed,omitempty"`
	LimitClamped        bool                     `json:"limit_clamped,omitempty"`
	Enrichment          *query.Outcome           `json:"enrichment,omitempty"`
}

// SearchKnowledgeBase runs a federated free-text search.
func (t *Tools) SearchKnowledgeBase(ctx context.Context, in KnowledgeSearchInput) (*Envelope, error) {
	const op = "search-knowledge-base"
	start := time.Now()

	v := &fieldValidator{}
	v.required("query", in.Query)
	categories := make([]core.Category, 0, len(in.Categories))
	for _, raw := range in.Categories {
		c := core.Category(strings.ToLower(strings.TrimSpace(raw)))
		if !c.Valid() {
			v.invalid("categories", fmt.Sprintf("unknown category %q", raw))
			continue
		}
		categories = append(categories, c)
	}
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}

	key := fingerprint("kb", in.Query, strings.Join(in.Categories, ","), fmt.Sprint(in.MaxResults))
	if data, ok := t.cacheGet(ctx, core.ContentTypeKnowledgeBase, key, &KnowledgeSearchData{}); ok {
		payload := data.(*KnowledgeSearchData)
		return t.finish(op, start, payload, &payload.AggregateConfidence, true), nil
	}

	enrichment := t.enrich(ctx, query.Request{Query: in.Query})

	filters := core.SearchFilters{Categories: categories}
	if enrichment != nil {
		filters.MaxResults = enrichment.Strategy.MaxResults
	}
	outcome, err := t.registry.AggregateSearch(ctx, in.Query, filters, in.MaxResults)
	if err != nil {
		return nil, t.fail(op, start, err)
	}

	data := &KnowledgeSearchData{
		Results:             outcome.Results,
		AggregateConfidence: aggregateConfidence(outcome.Results),
		SourcesQueried:      outcome.SourcesQueried,
		SourcesFailed:       outcome.Failures,
		LimitClamped:        outcome.LimitClamped,
		Enrichment:          enrichment,
	}
	// Partial answers are never memoized, same as runbook search.
	if len(outcome.Failures) == 0 {
		t.cacheSet(ctx, core.ContentTypeKnowledgeBase, key, data)
	}
	return t.finish(op, start, data, &data.AggregateConfidence, false), nil
}

// FeedbackInput records the outcome of following a runbook.
type FeedbackInput struct {
	RunbookID             string  `json:"runbook_id"`
	ProcedureID           string  `json:"procedure_id"`
	Outcome               string  `json:"outcome"`
	ResolutionTimeMinutes float64 `json:"resolution_time_minutes"`
	Notes                 string  `json:"notes,omitempty"`
}

// FeedbackData is the record-resolution-feedback payload.
type FeedbackData struct {
	RunbookID            string  `json:"runbook_id"`
	SuccessCount         int64   `json:"success_count"`
	FailureCount         int64   `json:"failure_count"`
	SuccessRate          float64 `json:"success_rate"`
	AvgResolutionMinutes float64 `json:"avg_resolution_minutes"`
}

// RecordResolutionFeedback appends to the feedback ledger and returns
// the updated rollup. The only write operation in the tool set.
func (t *Tools) RecordResolutionFeedback(ctx context.Context, in FeedbackInput) (*Envelope, error) {
	const op = "record-resolution-feedback"
	start := time.Now()

	v := &fieldValidator{}
	v.required("runbook_id", in.RunbookID)
	v.required("procedure_id", in.ProcedureID)
	v.required("outcome", in.Outcome)
	outcome, ok := ParseOutcome(in.Outcome)
	if in.Outcome != "" && !ok {
		v.invalid("outcome", "must be one of success, failure, partial")
	}
	if in.ResolutionTimeMinutes < 0 {
		v.invalid("resolution_time_minutes", "must be non-negative")
	}
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}

	rollup := t.feedback.Record(FeedbackEntry{
		RunbookID:         in.RunbookID,
		ProcedureID:       in.ProcedureID,
		Outcome:           outcome,
		ResolutionMinutes: in.ResolutionTimeMinutes,
		Notes:             in.Notes,
	})

	data := &FeedbackData{
		RunbookID:            in.RunbookID,
		SuccessCount:         rollup.SuccessCount,
		FailureCount:         rollup.FailureCount,
		SuccessRate:          rollup.SuccessRate(),
		AvgResolutionMinutes: rollup.AvgResolutionMinutes,
	}
	env := t.finish(op, start, data, nil, false)
	env.Message = fmt.Sprintf("Feedback recorded for runbook %s", in.RunbookID)
	return env, nil
}

// GetRunbook fetches a single runbook by id with feedback rollups
// applied. Used by the HTTP surface; not part of the tool protocol.
func (t *Tools) GetRunbook(ctx context.Context, id string) (*core.Runbook, error) {
	rb, err := t.registry.FindRunbook(ctx, id)
	if err != nil {
		return nil, err
	}
	return decorateRunbook(rb, t.feedback), nil
}

// RunbookListInput filters the runbook listing.
type RunbookListInput struct {
	Category string
	Severity string
	Limit    int
}

// RunbookListData is the runbook listing payload.
type RunbookListData struct {
	Runbooks []*core.Runbook `json:"runbooks"`
	Count    int             `json:"count"`
}

// ListRunbooks enumerates locally indexed runbooks with optional
// filters. Limit defaults to 50 and caps at 100.
func (t *Tools) ListRunbooks(ctx context.Context, in RunbookListInput) (*Envelope, error) {
	const op = "list-runbooks"
	start := time.Now()

	v := &fieldValidator{}
	var severity core.Severity
	if in.Severity != "" {
		var err error
		if severity, err = core.ParseSeverity(in.Severity); err != nil {
			v.invalid("severity", "must be one of info, low, medium, high, critical")
		}
	}
	if in.Category != "" && !core.Category(in.Category).Valid() {
		v.invalid("category", "must be one of runbook, procedure, guide, general")
	}
	if err := v.err(); err != nil {
		return nil, t.fail(op, start, err)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	all := t.registry.AllRunbooks()
	// Every listed entry is a runbook; other categories match nothing.
	if in.Category != "" && core.Category(in.Category) != core.CategoryRunbook {
		all = nil
	}
	out := make([]*core.Runbook, 0, len(all))
	for _, rb := range all {
		if severity != "" && !runbookHandlesSeverity(rb, severity) {
			continue
		}
		out = append(out, decorateRunbook(rb, t.feedback))
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	data := &RunbookListData{Runbooks: out, Count: len(out)}
	return t.finish(op, start, data, nil, false), nil
}

func runbookHandlesSeverity(rb *core.Runbook, severity core.Severity) bool {
	for _, mapped := range rb.SeverityMapping {
		if mapped == severity {
			return true
		}
	}
	return false
}

// enrich runs the query processor when one is wired.
func (t *Tools) enrich(ctx context.Context, req query.Request) *query.Outcome {
	if t.processor == nil {
		return nil
	}
	return t.processor.Process(ctx, req)
}

func (t *Tools) cacheGet(ctx context.Context, ct core.ContentType, key string, into interface{}) (interface{}, bool) {
	if t.cache == nil {
		return nil, false
	}
	raw, ok := t.cache.Get(ctx, ct, key)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return nil, false
	}
	return into, true
}

func (t *Tools) cacheSet(ctx context.Context, ct core.ContentType, key string, payload interface{}) {
	if t.cache == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	t.cache.Set(ctx, ct, key, string(data))
}

func (t *Tools) finish(op string, start time.Time, data interface{}, confidence *float64, cached bool) *Envelope {
	elapsed := time.Since(start)
	t.metrics.ObserveOperation(op, elapsed, true)
	return &Envelope{
		Success:         true,
		RetrievalTimeMS: elapsed.Milliseconds(),
		Timestamp:       time.Now().UTC(),
		Data:            data,
		Confidence:      confidence,
		Cached:          cached,
	}
}

func (t *Tools) fail(op string, start time.Time, err error) error {
	t.metrics.ObserveOperation(op, time.Since(start), false)
	return err
}

func bumpSeverity(s core.Severity) core.Severity {
	switch s {
	case core.SeverityInfo:
		return core.SeverityLow
	case core.SeverityLow:
		return core.SeverityMedium
	case core.SeverityMedium:
		return core.SeverityHigh
	default:
		return core.SeverityCritical
	}
}

func topScore(scores []float64) *float64 {
	if len(scores) == 0 {
		return nil
	}
	return &scores[0]
}

// aggregateConfidence is the confidence of the best result; an empty
// result set has zero confidence.
func aggregateConfidence(results []core.SearchResult) float64 {
	var best float64
	for _, r := range results {
		if r.Confidence > best {
			best = r.Confidence
		}
	}
	return best
}

func fingerprint(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(strings.ToLower(p)))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// defaultEscalation is the built-in contact table used when the
// configuration supplies none.
func defaultEscalation() map[string]core.EscalationTier {
	return map[string]core.EscalationTier{
		string(core.SeverityCritical): {
			Contacts: []core.EscalationContact{
				{Name: "Primary on-call", Role: "incident-commander", Channel: "pager"},
				{Name: "Engineering manager", Role: "escalation-manager", Channel: "phone"},
			},
			Procedure:           "Page the primary on-call immediately. If no acknowledgement within 5 minutes, page the engineering manager.",
			ResponseTimeMinutes: 5,
			AfterHoursContacts: []core.EscalationContact{
				{Name: "Night on-call", Role: "incident-commander", Channel: "pager"},
			},
		},
		string(core.SeverityHigh): {
			Contacts: []core.EscalationContact{
				{Name: "Primary on-call", Role: "first-responder", Channel: "pager"},
			},
			Procedure:           "Page the primary on-call. Open an incident channel and post the runbook link.",
			ResponseTimeMinutes: 15,
		},
		string(core.SeverityMedium): {
			Contacts: []core.EscalationContact{
				{Name: "Team on-call", Role: "first-responder", Channel: "chat"},
			},
			Procedure:           "Notify the owning team's on-call channel.",
			ResponseTimeMinutes: 60,
		},
		string(core.SeverityLow): {
			Contacts: []core.EscalationContact{
				{Name: "Owning team", Role: "triage", Channel: "ticket"},
			},
			Procedure:           "File a ticket with the owning team.",
			ResponseTimeMinutes: 240,
		},
		string(core.SeverityInfo): {
			Contacts: []core.EscalationContact{
				{Name: "Owning team", Role: "triage", Channel: "ticket"},
			},
			Procedure:           "File a ticket; no paging required.",
			ResponseTimeMinutes: 480,
		},
	}
}
