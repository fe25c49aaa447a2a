package query

import (
	"strings"
	"time"

	"github.com/runbookops/runbookd/core"
)

// PredictedContext is the enrichment attached to a query before
// strategy selection and adapter fan-out.
type PredictedContext struct {
	ImpliedSeverity  core.Severity `json:"implied_severity,omitempty"`
	ImpliedSystems   []string      `json:"implied_systems,omitempty"`
	SuggestedActions []string      `json:"suggested_actions,omitempty"`

	// Incident-flow catalogue match, when one clears the threshold.
	FlowID       string  `json:"flow_id,omitempty"`
	UrgencyBoost float64 `json:"urgency_boost,omitempty"`

	// Organizational context.
	Urgent        bool `json:"urgent"`
	BusinessHours bool `json:"business_hours"`
	Weekend       bool `json:"weekend"`
}

// patternRule enriches context from query keywords.
type patternRule struct {
	keywords []string
	severity core.Severity
	systems  []string
	actions  []string
}

var patternRules = []patternRule{
	{
		keywords: []string{"disk space", "disk full", "no space left"},
		severity: core.SeverityHigh,
		systems:  []string{"storage"},
		actions:  []string{"identify largest directories", "rotate and compress logs", "expand the volume"},
	},
	{
		keywords: []string{"oom", "out of memory", "memory leak"},
		severity: core.SeverityHigh,
		systems:  []string{"memory"},
		actions:  []string{"inspect process memory usage", "restart the leaking service", "raise memory limits"},
	},
	{
		keywords: []string{"ssl", "tls", "certificate"},
		severity: core.SeverityMedium,
		systems:  []string{"security", "network"},
		actions:  []string{"check certificate expiry", "renew and redeploy the certificate"},
	},
	{
		keywords: []string{"rollback", "bad deploy", "failed deployment"},
		severity: core.SeverityHigh,
		systems:  []string{"deployment"},
		actions:  []string{"identify the last good release", "roll back and verify health"},
	},
	{
		keywords: []string{"replication lag", "replica behind"},
		severity: core.SeverityMedium,
		systems:  []string{"database"},
		actions:  []string{"check replication status", "throttle writes if lag grows"},
	},
	{
		keywords: []string{"5xx", "500 errors", "gateway timeout", "latency spike"},
		severity: core.SeverityHigh,
		systems:  []string{"api"},
		actions:  []string{"check upstream health", "inspect recent deploys"},
	},
}

// incidentFlow is one entry of the flow catalogue. A query matching a
// flow's trigger predicates inherits the flow id and urgency boost.
type incidentFlow struct {
	id           string
	alertTypes   []string
	severities   []core.Severity
	systemWords  []string
	urgencyBoost float64
}

var incidentFlows = []incidentFlow{
	{
		id:           "flow-disk-pressure",
		alertTypes:   []string{"disk_space", "disk space", "volume full"},
		severities:   []core.Severity{core.SeverityHigh, core.SeverityCritical},
		systemWords:  []string{"storage", "disk", "volume"},
		urgencyBoost: 0.2,
	},
	{
		id:           "flow-memory-pressure",
		alertTypes:   []string{"oom", "out of memory", "memory"},
		severities:   []core.Severity{core.SeverityHigh, core.SeverityCritical},
		systemWords:  []string{"memory", "heap"},
		urgencyBoost: 0.2,
	},
	{
		id:           "flow-service-outage",
		alertTypes:   []string{"outage", "down", "unreachable"},
		severities:   []core.Severity{core.SeverityCritical},
		systemWords:  []string{"api", "web", "gateway", "database"},
		urgencyBoost: 0.4,
	},
	{
		id:           "flow-certificate-expiry",
		alertTypes:   []string{"ssl", "certificate", "tls"},
		severities:   []core.Severity{core.SeverityMedium, core.SeverityHigh},
		systemWords:  []string{"security", "network"},
		urgencyBoost: 0.1,
	},
}

// Flow predicate weights; a flow attaches when the weighted sum clears
// the threshold.
const (
	flowAlertWeight    = 0.4
	flowSeverityWeight = 0.3
	flowSystemWeight   = 0.3
	flowThreshold      = 0.7
)

// criticalSystems marks system names whose involvement makes a query
// urgent regardless of stated severity.
var criticalSystems = map[string]bool{
	"database": true,
	"payments": true,
	"payment":  true,
	"auth":     true,
	"gateway":  true,
	"api":      true,
}

// predictContext derives implied severity, systems and actions from the
// query text, consults the incident-flow catalogue, and applies
// organizational rules against the supplied clock.
func predictContext(query string, severity core.Severity, systems []string, now time.Time) PredictedContext {
	normalized := normalizeQuery(query)
	out := PredictedContext{}

	seenSystems := make(map[string]bool)
	for _, rule := range patternRules {
		matched := false
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if rule.severity.Rank() > out.ImpliedSeverity.Rank() {
			out.ImpliedSeverity = rule.severity
		}
		for _, sys := range rule.systems {
			if !seenSystems[sys] {
				seenSystems[sys] = true
				out.ImpliedSystems = append(out.ImpliedSystems, sys)
			}
		}
		out.SuggestedActions = append(out.SuggestedActions, rule.actions...)
	}

	effectiveSeverity := severity
	if effectiveSeverity == "" {
		effectiveSeverity = out.ImpliedSeverity
	}
	effectiveSystems := systems
	if len(effectiveSystems) == 0 {
		effectiveSystems = out.ImpliedSystems
	}

	if flow, score := matchFlow(normalized, effectiveSeverity, effectiveSystems); score >= flowThreshold {
		out.FlowID = flow.id
		out.UrgencyBoost = flow.urgencyBoost
	}

	// Organizational rules.
	for _, sys := range effectiveSystems {
		for _, token := range strings.FieldsFunc(strings.ToLower(sys), func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if criticalSystems[token] {
				out.Urgent = true
			}
		}
	}
	if effectiveSeverity == core.SeverityCritical {
		out.Urgent = true
	}

	weekday := now.Weekday()
	out.Weekend = weekday == time.Saturday || weekday == time.Sunday
	out.BusinessHours = !out.Weekend && now.Hour() >= 9 && now.Hour() < 17

	return out
}

// matchFlow returns the best-scoring catalogue flow for the query.
func matchFlow(normalized string, severity core.Severity, systems []string) (incidentFlow, float64) {
	var best incidentFlow
	var bestScore float64

	systemText := strings.ToLower(strings.Join(systems, " "))

	for _, flow := range incidentFlows {
		var score float64

		for _, alert := range flow.alertTypes {
			if strings.Contains(normalized, alert) {
				score += flowAlertWeight
				break
			}
		}
		for _, sev := range flow.severities {
			if sev == severity {
				score += flowSeverityWeight
				break
			}
		}
		for _, word := range flow.systemWords {
			if strings.Contains(systemText, word) || strings.Contains(normalized, word) {
				score += flowSystemWeight
				break
			}
		}

		if score > bestScore {
			bestScore = score
			best = flow
		}
	}
	return best, bestScore
}
