package query

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/runbookops/runbookd/cache"
	"github.com/runbookops/runbookd/core"
)

// memoTTL bounds how long an enrichment stays memoized. Enrichment is
// a pure function of query and context except for the wall-clock flags,
// which tolerate short staleness.
const memoTTL = 5 * time.Minute

// Request is the processor's input: the free-text query plus whatever
// structured context the caller already has.
type Request struct {
	Query           string
	Context         string
	Severity        core.Severity
	AffectedSystems []string
}

// Outcome is the full enrichment result handed to the search path.
type Outcome struct {
	Intent           Intent           `json:"intent"`
	Confidence       float64          `json:"confidence"`
	CandidateIntents []ScoredIntent   `json:"candidate_intents,omitempty"`
	Context          PredictedContext `json:"context"`
	Strategy         Strategy         `json:"strategy"`
	Fallback         bool             `json:"fallback,omitempty"`
	Memoized         bool             `json:"memoized,omitempty"`
	ElapsedMS        int64            `json:"elapsed_ms"`
}

// Processor runs the enrichment pipeline with memoization and a latency
// target. It never fails a request: internal errors degrade to the
// general-search fallback.
type Processor struct {
	cfg    core.QueryConfig
	logger core.Logger
	memo   *cache.MemoryTier
	now    func() time.Time
}

// NewProcessor creates the processor. Memoization capacity comes from
// the query config.
func NewProcessor(cfg core.QueryConfig, logger core.Logger) *Processor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Processor{
		cfg:    cfg,
		logger: logger,
		memo:   cache.NewMemoryTier(cfg.CacheSize),
		now:    time.Now,
	}
}

// Stop releases the memoization tier.
func (p *Processor) Stop() { p.memo.Stop() }

// Process enriches one query. Exceeding the latency target logs a
// warning but the result is still returned; the downstream request
// budget is the hard bound, not this one.
func (p *Processor) Process(ctx context.Context, req Request) *Outcome {
	start := p.now()
	key := p.memoKey(req)

	if raw, ok, _ := p.memo.Get(ctx, key); ok {
		var out Outcome
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			out.Memoized = true
			out.ElapsedMS = time.Since(start).Milliseconds()
			return &out
		}
	}

	out := p.run(req, start)

	if data, err := json.Marshal(out); err == nil {
		_ = p.memo.Set(ctx, key, string(data), memoTTL)
	}

	elapsed := time.Since(start)
	out.ElapsedMS = elapsed.Milliseconds()
	if target := time.Duration(p.cfg.TargetLatencyMS) * time.Millisecond; elapsed > target {
		p.logger.Warn("Query enrichment exceeded latency target", map[string]interface{}{
			"operation":  "query_process",
			"elapsed_ms": elapsed.Milliseconds(),
			"target_ms":  p.cfg.TargetLatencyMS,
		})
	}
	return out
}

// run executes the pipeline stages with a recovery net: a panic in any
// rule degrades to the fallback outcome instead of failing the request.
func (p *Processor) run(req Request, start time.Time) (out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Query enrichment failed, using fallback", map[string]interface{}{
				"operation": "query_process",
				"panic":     fmt.Sprintf("%v", r),
			})
			out = p.fallback(start)
		}
	}()

	candidates := classifyIntents(joinQueryContext(req))
	best := candidates[0]

	outcome := &Outcome{
		Intent:     best.Intent,
		Confidence: best.Confidence,
	}
	if best.Confidence < p.cfg.IntentThreshold {
		if p.cfg.MultiIntent {
			outcome.CandidateIntents = candidates
		} else {
			outcome.Intent = IntentGeneralSearch
			outcome.Confidence = 0.5
		}
	}

	outcome.Context = predictContext(joinQueryContext(req), req.Severity, req.AffectedSystems, p.now())
	outcome.Strategy = selectStrategy(outcome.Intent, outcome.Context)
	return outcome
}

// fallback is the degraded answer used on internal failure.
func (p *Processor) fallback(start time.Time) *Outcome {
	return &Outcome{
		Intent:     IntentGeneralSearch,
		Confidence: 0.5,
		Strategy:   strategyHybridBalanced,
		Fallback:   true,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
}

// memoKey fingerprints the request: normalized query plus a hash of the
// structured context.
func (p *Processor) memoKey(req Request) string {
	h := fnv.New64a()
	h.Write([]byte(normalizeQuery(req.Context)))
	h.Write([]byte{0})
	h.Write([]byte(req.Severity))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(req.AffectedSystems, ","))))
	return fmt.Sprintf("%s|%x", normalizeQuery(req.Query), h.Sum64())
}

func joinQueryContext(req Request) string {
	if req.Context == "" {
		return req.Query
	}
	return req.Query + " " + req.Context
}
