package adapter

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/runbookops/runbookd/core"
)

func testRunbook(id string, triggers []string, mapping map[string]core.Severity) *core.Runbook {
	return &core.Runbook{
		ID:              id,
		Title:           "Disk Space Recovery",
		Triggers:        triggers,
		SeverityMapping: mapping,
		Metadata:        core.RunbookMetadata{Confidence: 0.9},
		LastUpdated:     time.Now(),
	}
}

func TestScoreRunbookExactMatch(t *testing.T) {
	rb := testRunbook("rb-disk", []string{"disk space low"}, map[string]core.Severity{
		"disk space low": core.SeverityHigh,
	})
	sig := core.AlertSignature{
		AlertType:       "disk space low",
		Severity:        core.SeverityHigh,
		AffectedSystems: []string{"disk"},
	}

	confidence, reasons := ScoreRunbook(rb, sig)
	// Full trigger overlap (0.5) + exact severity (0.3) + system hit (0.2).
	if confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %f", confidence)
	}
	if len(reasons) != 3 {
		t.Errorf("expected 3 match reasons, got %d: %v", len(reasons), reasons)
	}
}

func TestScoreRunbookAdjacentSeverity(t *testing.T) {
	rb := testRunbook("rb-disk", []string{"disk space low"}, map[string]core.Severity{
		"disk space low": core.SeverityHigh,
	})
	sig := core.AlertSignature{AlertType: "disk space low", Severity: core.SeverityCritical}

	confidence, _ := ScoreRunbook(rb, sig)
	// 0.5 trigger + 0.15 adjacent severity, no systems given.
	if confidence < 0.649 || confidence > 0.651 {
		t.Errorf("expected confidence ~0.65, got %f", confidence)
	}
}

func TestScoreRunbookNoMatch(t *testing.T) {
	rb := testRunbook("rb-disk", []string{"disk space low"}, nil)
	sig := core.AlertSignature{AlertType: "ssl certificate expiring", Severity: core.SeverityLow}

	confidence, reasons := ScoreRunbook(rb, sig)
	if confidence != 0 {
		t.Errorf("expected zero confidence, got %f", confidence)
	}
	if len(reasons) != 0 {
		t.Errorf("expected no reasons, got %v", reasons)
	}
}

func TestSortRunbookMatchesOrdering(t *testing.T) {
	older := testRunbook("rb-old", nil, nil)
	older.LastUpdated = time.Now().Add(-48 * time.Hour)
	newer := testRunbook("rb-new", nil, nil)

	matches := []core.RunbookMatch{
		{Runbook: older, Confidence: 0.5},
		{Runbook: newer, Confidence: 0.9},
		{Runbook: newer, Confidence: 0.5},
	}
	SortRunbookMatches(matches)

	if matches[0].Confidence != 0.9 {
		t.Errorf("expected highest confidence first, got %f", matches[0].Confidence)
	}
	// Equal confidence and equal metadata confidence: newer wins.
	if matches[1].Runbook.ID != "rb-new" {
		t.Errorf("expected newer runbook to win the tie, got %s", matches[1].Runbook.ID)
	}
}

func TestScoreDocumentTitleOutweighsContent(t *testing.T) {
	titleHit := &core.Document{Title: "database failover", Content: "unrelated text"}
	contentHit := &core.Document{Title: "unrelated", Content: "database failover steps"}
	tokens := tokenize("database failover")

	titleScore, _ := ScoreDocument(titleHit, tokens)
	contentScore, _ := ScoreDocument(contentHit, tokens)
	if titleScore <= contentScore {
		t.Errorf("title match (%f) should outrank content match (%f)", titleScore, contentScore)
	}
}

func TestApplyFiltersThresholdAndCap(t *testing.T) {
	now := time.Now()
	results := []core.SearchResult{
		{ID: "a", Confidence: 0.9, LastUpdated: now},
		{ID: "b", Confidence: 0.2, LastUpdated: now},
		{ID: "c", Confidence: 0.8, LastUpdated: now},
		{ID: "d", Confidence: 0.7, LastUpdated: now},
	}

	out := applyFilters(results, core.SearchFilters{MinConfidence: 0.5, MaxResults: 2})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "c" {
		t.Errorf("unexpected order: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestApplyFiltersCategoryWhitelist(t *testing.T) {
	results := []core.SearchResult{
		{ID: "a", Confidence: 0.9, Category: core.CategoryRunbook},
		{ID: "b", Confidence: 0.9, Category: core.CategoryGuide},
		{ID: "c", Confidence: 0.9}, // uncategorized always passes
	}

	out := applyFilters(results, core.SearchFilters{Categories: []core.Category{core.CategoryRunbook}})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}

func TestApplyFiltersMaxAge(t *testing.T) {
	results := []core.SearchResult{
		{ID: "fresh", Confidence: 0.9, LastUpdated: time.Now()},
		{ID: "stale", Confidence: 0.9, LastUpdated: time.Now().Add(-90 * 24 * time.Hour)},
	}

	out := applyFilters(results, core.SearchFilters{MaxAgeDays: 30})
	if len(out) != 1 || out[0].ID != "fresh" {
		t.Fatalf("expected only the fresh result, got %d", len(out))
	}
}

func TestExcerptCutsOnWordBoundary(t *testing.T) {
	content := "check the database replication lag before restarting anything else"
	got := Excerpt(content, 30)
	if len(got) > 34 {
		t.Errorf("excerpt too long: %q", got)
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	// "日" is three bytes; cutting at 7 would land mid-rune.
	content := strings.Repeat("日", 10)
	for max := 1; max < 12; max++ {
		got := Excerpt(content, max)
		if !utf8.ValidString(got) {
			t.Errorf("Excerpt(max=%d) split a rune: %q", max, got)
		}
	}
}

func TestTokenizeLowercasesAndSplits(t *testing.T) {
	tokens := tokenize("Disk-Space_LOW (90%)")
	want := []string{"disk", "space", "low", "90"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d: expected %q, got %q", i, want[i], tokens[i])
		}
	}
}
