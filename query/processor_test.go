package query

import (
	"context"
	"testing"
	"time"

	"github.com/runbookops/runbookd/core"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p := NewProcessor(core.QueryConfig{
		IntentThreshold: 0.8,
		TargetLatencyMS: 50,
		CacheSize:       100,
	}, &core.NoOpLogger{})
	t.Cleanup(p.Stop)
	return p
}

func TestClassifyIntentRunbook(t *testing.T) {
	candidates := classifyIntents("is there a runbook for the disk space alert")
	if candidates[0].Intent != IntentFindRunbook {
		t.Errorf("expected find-runbook, got %s", candidates[0].Intent)
	}
	if candidates[0].Confidence < 0.8 {
		t.Errorf("expected strong confidence, got %f", candidates[0].Confidence)
	}
}

func TestClassifyIntentEmergency(t *testing.T) {
	candidates := classifyIntents("production down, need emergency help")
	if candidates[0].Intent != IntentEmergencyResponse {
		t.Errorf("expected emergency-response, got %s", candidates[0].Intent)
	}
}

func TestClassifyIntentEscalation(t *testing.T) {
	candidates := classifyIntents("who do i call for the payments escalation")
	if candidates[0].Intent != IntentEscalationPath {
		t.Errorf("expected escalation-path, got %s", candidates[0].Intent)
	}
}

func TestClassifyIntentFallsBackToGeneralSearch(t *testing.T) {
	candidates := classifyIntents("kubernetes networking overview")
	if candidates[0].Intent != IntentGeneralSearch {
		t.Errorf("expected general-search for a neutral query, got %s", candidates[0].Intent)
	}
	if candidates[0].Confidence != 0.5 {
		t.Errorf("expected floor confidence 0.5, got %f", candidates[0].Confidence)
	}
}

func TestProcessBelowThresholdWithoutMultiIntent(t *testing.T) {
	p := newTestProcessor(t)
	// "error" alone scores troubleshoot at 0.3, below the 0.8 threshold.
	out := p.Process(context.Background(), Request{Query: "error rates"})
	if out.Intent != IntentGeneralSearch {
		t.Errorf("expected general-search below threshold, got %s", out.Intent)
	}
	if len(out.CandidateIntents) != 0 {
		t.Error("multi-intent disabled: no candidate list expected")
	}
}

func TestProcessBelowThresholdWithMultiIntent(t *testing.T) {
	p := NewProcessor(core.QueryConfig{
		IntentThreshold: 0.8,
		MultiIntent:     true,
		TargetLatencyMS: 50,
		CacheSize:       100,
	}, &core.NoOpLogger{})
	defer p.Stop()

	out := p.Process(context.Background(), Request{Query: "error rates"})
	if len(out.CandidateIntents) == 0 {
		t.Fatal("expected candidate intents when multi-intent is enabled")
	}
}

func TestPredictContextDiskSpace(t *testing.T) {
	weekday := time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC) // Wednesday
	pctx := predictContext("disk space low on web-01", "", nil, weekday)

	if pctx.ImpliedSeverity != core.SeverityHigh {
		t.Errorf("expected implied high severity, got %s", pctx.ImpliedSeverity)
	}
	if len(pctx.ImpliedSystems) == 0 || pctx.ImpliedSystems[0] != "storage" {
		t.Errorf("expected storage system, got %v", pctx.ImpliedSystems)
	}
	if len(pctx.SuggestedActions) == 0 {
		t.Error("expected suggested actions")
	}
	if !pctx.BusinessHours || pctx.Weekend {
		t.Errorf("expected weekday business hours, got %+v", pctx)
	}
}

func TestPredictContextFlowMatch(t *testing.T) {
	now := time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC)
	// Alert match (0.4) + severity match (0.3) + system overlap (0.3).
	pctx := predictContext("disk_space alert firing", core.SeverityCritical, []string{"storage"}, now)

	if pctx.FlowID != "flow-disk-pressure" {
		t.Errorf("expected disk-pressure flow, got %q", pctx.FlowID)
	}
	if pctx.UrgencyBoost == 0 {
		t.Error("expected a non-zero urgency boost")
	}
}

func TestPredictContextFlowBelowThreshold(t *testing.T) {
	now := time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC)
	// Alert match alone (0.4) stays below the 0.7 threshold.
	pctx := predictContext("oom observed", core.SeverityLow, []string{"frontend"}, now)
	if pctx.FlowID != "" {
		t.Errorf("expected no flow attachment, got %q", pctx.FlowID)
	}
}

func TestPredictContextUrgencyRules(t *testing.T) {
	saturday := time.Date(2026, time.March, 7, 20, 0, 0, 0, time.UTC)
	pctx := predictContext("latency spike", core.SeverityMedium, []string{"payments-primary"}, saturday)

	if !pctx.Urgent {
		t.Error("critical system involvement must mark the query urgent")
	}
	if !pctx.Weekend || pctx.BusinessHours {
		t.Errorf("expected weekend outside business hours, got %+v", pctx)
	}
}

func TestSelectStrategy(t *testing.T) {
	if s := selectStrategy(IntentEmergencyResponse, PredictedContext{}); s.Name != "fuzzy-heavy" {
		t.Errorf("emergency should pick fuzzy-heavy, got %s", s.Name)
	}
	if s := selectStrategy(IntentFindRunbook, PredictedContext{}); s.Name != "hybrid-balanced" {
		t.Errorf("runbook lookup should pick hybrid-balanced, got %s", s.Name)
	}
	if s := selectStrategy(IntentFindRunbook, PredictedContext{Urgent: true}); s.Name != "fuzzy-heavy" {
		t.Errorf("urgent runbook lookup should tighten to fuzzy-heavy, got %s", s.Name)
	}
	if s := selectStrategy(IntentGeneralSearch, PredictedContext{}); s.Name != "semantic-heavy" {
		t.Errorf("general search should pick semantic-heavy, got %s", s.Name)
	}
}

func TestProcessMemoization(t *testing.T) {
	p := newTestProcessor(t)
	req := Request{Query: "runbook for disk space", Severity: core.SeverityHigh}

	first := p.Process(context.Background(), req)
	if first.Memoized {
		t.Error("first call must not be memoized")
	}
	second := p.Process(context.Background(), req)
	if !second.Memoized {
		t.Error("second identical call should be memoized")
	}
	if second.Intent != first.Intent || second.Strategy.Name != first.Strategy.Name {
		t.Error("memoized outcome must match the original")
	}
}

func TestProcessMemoKeyIncludesContext(t *testing.T) {
	p := newTestProcessor(t)
	base := Request{Query: "latency spike"}
	withSystems := Request{Query: "latency spike", AffectedSystems: []string{"payments"}}

	p.Process(context.Background(), base)
	out := p.Process(context.Background(), withSystems)
	if out.Memoized {
		t.Error("different context must not share a memoization slot")
	}
}

func TestFallbackOutcome(t *testing.T) {
	p := newTestProcessor(t)
	out := p.fallback(time.Now())
	if !out.Fallback {
		t.Error("fallback outcome must be flagged")
	}
	if out.Intent != IntentGeneralSearch || out.Confidence != 0.5 {
		t.Errorf("fallback should degrade to general-search at floor confidence, got %s %f", out.Intent, out.Confidence)
	}
	if out.Strategy.Name != "hybrid-balanced" {
		t.Errorf("fallback strategy = %s", out.Strategy.Name)
	}
}

func TestStrategyWeightsSumToOne(t *testing.T) {
	for _, s := range []Strategy{strategySemanticHeavy, strategyFuzzyHeavy, strategyHybridBalanced} {
		sum := s.Weights.Semantic + s.Weights.Fuzzy + s.Weights.Metadata + s.Weights.Recency
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("strategy %s weights sum to %f", s.Name, sum)
		}
	}
}
