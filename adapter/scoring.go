package adapter

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/runbookops/runbookd/core"
)

// Runbook match weights. Alert-type overlap dominates; severity and
// system overlap refine.
const (
	weightAlertOverlap  = 0.5
	weightSeverityMatch = 0.3
	weightSystemOverlap = 0.2
)

// tokenize lowercases and splits a string on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// tokenOverlap returns |a ∩ b| / |a| over token sets, in [0, 1].
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	matched := 0
	for _, t := range a {
		if set[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}

// severityScore implements exact = 1.0, adjacent = 0.5, else 0.0.
func severityScore(want, have core.Severity) float64 {
	switch {
	case want == have:
		return 1.0
	case want.Adjacent(have):
		return 0.5
	default:
		return 0.0
	}
}

// ScoreRunbook computes the weighted match confidence of one runbook
// against an alert signature, with human-readable reasons describing
// which signals fired.
func ScoreRunbook(rb *core.Runbook, sig core.AlertSignature) (float64, []string) {
	var reasons []string
	alertTokens := tokenize(sig.AlertType)

	// Alert-type overlap with declared triggers: best trigger wins.
	var bestTrigger string
	var triggerScore float64
	for _, trigger := range rb.Triggers {
		if s := tokenOverlap(alertTokens, tokenize(trigger)); s > triggerScore {
			triggerScore = s
			bestTrigger = trigger
		}
	}
	if triggerScore > 0 {
		reasons = append(reasons, fmt.Sprintf("alert type %q matches trigger %q", sig.AlertType, bestTrigger))
	}

	// Severity: the runbook's mapping for this alert type, when present.
	var sevScore float64
	if mapped, ok := rb.SeverityMapping[sig.AlertType]; ok {
		sevScore = severityScore(sig.Severity, mapped)
		switch sevScore {
		case 1.0:
			reasons = append(reasons, fmt.Sprintf("severity %s matches exactly", sig.Severity))
		case 0.5:
			reasons = append(reasons, fmt.Sprintf("severity %s is adjacent to mapped %s", sig.Severity, mapped))
		}
	}

	// System overlap against trigger and title tokens.
	var sysScore float64
	if len(sig.AffectedSystems) > 0 {
		haystack := tokenize(rb.Title + " " + strings.Join(rb.Triggers, " "))
		matched := 0
		for _, sys := range sig.AffectedSystems {
			if tokenOverlap(tokenize(sys), haystack) > 0 {
				matched++
			}
		}
		sysScore = float64(matched) / float64(len(sig.AffectedSystems))
		if matched > 0 {
			reasons = append(reasons, fmt.Sprintf("%d of %d affected systems referenced", matched, len(sig.AffectedSystems)))
		}
	}

	confidence := weightAlertOverlap*triggerScore + weightSeverityMatch*sevScore + weightSystemOverlap*sysScore
	return core.ClampConfidence(confidence), reasons
}

// SortRunbookMatches orders matches by descending confidence, then
// higher runbook confidence, then most recent last-updated.
func SortRunbookMatches(matches []core.RunbookMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		ci, cj := matches[i].Runbook.Metadata.Confidence, matches[j].Runbook.Metadata.Confidence
		if ci != cj {
			return ci > cj
		}
		return matches[i].Runbook.LastUpdated.After(matches[j].Runbook.LastUpdated)
	})
}

// ScoreDocument computes the search confidence of a document for a
// tokenized query: title overlap weighted over content overlap.
func ScoreDocument(doc *core.Document, queryTokens []string) (float64, []string) {
	if len(queryTokens) == 0 {
		return 0, nil
	}
	var reasons []string
	titleScore := tokenOverlap(queryTokens, tokenize(doc.Title))
	contentScore := tokenOverlap(queryTokens, tokenize(doc.Content))

	if titleScore > 0 {
		reasons = append(reasons, "query terms found in title")
	}
	if contentScore > 0 {
		reasons = append(reasons, "query terms found in content")
	}

	return core.ClampConfidence(0.6*titleScore + 0.4*contentScore), reasons
}

// Excerpt trims document content to a short preview around the start.
// The cut never splits a multi-byte rune.
func Excerpt(content string, max int) string {
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	for max > 0 && !utf8.RuneStart(content[max]) {
		max--
	}
	cut := content[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// applyFilters enforces filter semantics common to all variants: the
// confidence threshold, category whitelist, age bound and result cap.
func applyFilters(results []core.SearchResult, filters core.SearchFilters) []core.SearchResult {
	maxAge := time.Duration(filters.MaxAgeDays) * 24 * time.Hour
	out := results[:0]
	for _, r := range results {
		if r.Confidence < filters.MinConfidence {
			continue
		}
		if r.Category != "" && !filters.AllowsCategory(r.Category) {
			continue
		}
		if maxAge > 0 && !r.LastUpdated.IsZero() && time.Since(r.LastUpdated) > maxAge {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})

	if max := filters.EffectiveMaxResults(); len(out) > max {
		out = out[:max]
	}
	return out
}
