// Package query enriches inbound queries before adapter fan-out:
// intent classification, context prediction and strategy selection,
// memoized per (normalized query, context).
package query

import (
	"sort"
	"strings"
)

// Intent labels the operator's goal. The set is closed.
type Intent string

const (
	IntentFindRunbook       Intent = "find-runbook"
	IntentGetProcedure      Intent = "get-procedure"
	IntentTroubleshoot      Intent = "troubleshoot"
	IntentEmergencyResponse Intent = "emergency-response"
	IntentEscalationPath    Intent = "escalation-path"
	IntentGeneralSearch     Intent = "general-search"
)

// ScoredIntent pairs a candidate intent with its confidence.
type ScoredIntent struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// intentRule scores one intent: phrases are strong signals, keywords
// accumulate weaker evidence.
type intentRule struct {
	intent   Intent
	phrases  []string
	keywords []string
}

var intentRules = []intentRule{
	{
		intent:   IntentEmergencyResponse,
		phrases:  []string{"site down", "outage", "everything is down", "production down", "sev1", "sev 1"},
		keywords: []string{"emergency", "critical", "urgent", "incident", "down"},
	},
	{
		intent:   IntentEscalationPath,
		phrases:  []string{"who do i call", "who to page", "escalation path", "on call"},
		keywords: []string{"escalate", "escalation", "page", "contact", "oncall"},
	},
	{
		intent:   IntentFindRunbook,
		phrases:  []string{"runbook for", "playbook for", "is there a runbook"},
		keywords: []string{"runbook", "playbook", "alert", "firing"},
	},
	{
		intent:   IntentGetProcedure,
		phrases:  []string{"how do i", "steps to", "procedure for", "how to"},
		keywords: []string{"procedure", "steps", "step", "command", "restart", "rollback"},
	},
	{
		intent:   IntentTroubleshoot,
		phrases:  []string{"why is", "root cause", "keeps failing"},
		keywords: []string{"troubleshoot", "debug", "diagnose", "investigate", "failing", "error", "slow"},
	},
}

const (
	phraseScore  = 0.9
	keywordScore = 0.3
)

// classifyIntents scores the query against every intent rule and
// returns candidates in descending confidence. general-search is always
// present as the floor candidate.
func classifyIntents(query string) []ScoredIntent {
	normalized := " " + normalizeQuery(query) + " "

	out := make([]ScoredIntent, 0, len(intentRules)+1)
	for _, rule := range intentRules {
		var score float64
		for _, phrase := range rule.phrases {
			if strings.Contains(normalized, " "+phrase+" ") || strings.Contains(normalized, phrase) {
				score += phraseScore
				break
			}
		}
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, " "+kw+" ") {
				score += keywordScore
			}
		}
		if score > 1 {
			score = 1
		}
		if score > 0 {
			out = append(out, ScoredIntent{Intent: rule.intent, Confidence: score})
		}
	}

	out = append(out, ScoredIntent{Intent: IntentGeneralSearch, Confidence: 0.5})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// normalizeQuery lowercases and collapses whitespace so memoization
// keys and keyword matching are insensitive to formatting.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
