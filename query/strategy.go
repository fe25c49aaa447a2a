package query

import "time"

// Weights distributes scoring emphasis across signal families. They sum
// to 1 for every built-in strategy.
type Weights struct {
	Semantic float64 `json:"semantic"`
	Fuzzy    float64 `json:"fuzzy"`
	Metadata float64 `json:"metadata"`
	Recency  float64 `json:"recency"`
}

// Strategy describes how the downstream search should run: scoring
// weights, result bound and the per-stage time budget.
type Strategy struct {
	Name        string        `json:"name"`
	Weights     Weights       `json:"weights"`
	MaxResults  int           `json:"max_results"`
	StageBudget time.Duration `json:"stage_budget"`
}

var (
	strategySemanticHeavy = Strategy{
		Name:        "semantic-heavy",
		Weights:     Weights{Semantic: 0.5, Fuzzy: 0.2, Metadata: 0.15, Recency: 0.15},
		MaxResults:  20,
		StageBudget: 25 * time.Millisecond,
	}
	strategyFuzzyHeavy = Strategy{
		Name:        "fuzzy-heavy",
		Weights:     Weights{Semantic: 0.15, Fuzzy: 0.5, Metadata: 0.2, Recency: 0.15},
		MaxResults:  5,
		StageBudget: 10 * time.Millisecond,
	}
	strategyHybridBalanced = Strategy{
		Name:        "hybrid-balanced",
		Weights:     Weights{Semantic: 0.3, Fuzzy: 0.3, Metadata: 0.2, Recency: 0.2},
		MaxResults:  10,
		StageBudget: 20 * time.Millisecond,
	}
)

// selectStrategy chooses the search approach from the classified intent
// and the enriched context. Urgency tightens budgets: an emergency
// needs the few most likely runbooks fast, not a broad sweep.
func selectStrategy(intent Intent, pctx PredictedContext) Strategy {
	switch intent {
	case IntentEmergencyResponse:
		return strategyFuzzyHeavy
	case IntentFindRunbook, IntentGetProcedure, IntentEscalationPath:
		if pctx.Urgent {
			return strategyFuzzyHeavy
		}
		return strategyHybridBalanced
	case IntentTroubleshoot, IntentGeneralSearch:
		if pctx.Urgent {
			return strategyHybridBalanced
		}
		return strategySemanticHeavy
	default:
		return strategyHybridBalanced
	}
}
