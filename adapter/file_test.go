package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/runbookops/runbookd/core"
)

const diskRunbookYAML = `
title: Disk Space Recovery
category: runbook
content: |
  Free disk space on the affected host, then verify the alert clears.
runbook:
  id: rb-disk-space
  triggers:
    - disk space low
  severity_mapping:
    disk space low: high
  decision_tree:
    id: dt-disk
    name: Disk triage
    branches:
      - id: check-usage
        condition: usage above 90 percent
        action: identify largest directories
        next_step: clean-logs
        confidence: 0.9
      - id: clean-logs
        condition: logs dominate usage
        action: rotate and compress logs
        confidence: 0.8
  procedures:
    - id: step-1
      name: check-usage
      command: df -h
  metadata:
    confidence: 0.9
`

const cyclicRunbookYAML = `
title: Broken Runbook
category: runbook
content: never indexed
runbook:
  id: rb-cyclic
  triggers: [anything]
  decision_tree:
    id: dt-loop
    name: Loop
    branches:
      - id: a
        condition: first
        action: go to b
        next_step: b
        confidence: 0.5
      - id: b
        condition: second
        action: go back to a
        next_step: a
        confidence: 0.5
  metadata:
    confidence: 0.5
`

func writeTestDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func newTestFileAdapter(t *testing.T, dir string) *FileAdapter {
	t.Helper()
	a, err := NewFileAdapter(core.SourceConfig{
		Name:    "local-docs",
		Type:    core.SourceTypeFile,
		Paths:   []string{dir},
		Enabled: true,
	}, Deps{Logger: &core.NoOpLogger{}})
	if err != nil {
		t.Fatalf("creating adapter: %v", err)
	}
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing adapter: %v", err)
	}
	return a
}

func TestFileAdapterIndexesAndSearches(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "disk.yaml", diskRunbookYAML)
	a := newTestFileAdapter(t, dir)

	results, err := a.Search(context.Background(), "disk space", core.SearchFilters{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "local-docs:disk" {
		t.Errorf("unexpected document id %q", results[0].ID)
	}
	if results[0].Confidence <= 0 {
		t.Errorf("expected positive confidence, got %f", results[0].Confidence)
	}
}

func TestFileAdapterSearchRunbooks(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "disk.yaml", diskRunbookYAML)
	a := newTestFileAdapter(t, dir)

	matches, err := a.SearchRunbooks(context.Background(), core.AlertSignature{
		AlertType: "disk space low",
		Severity:  core.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("runbook search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Runbook.ID != "rb-disk-space" {
		t.Errorf("unexpected runbook %q", matches[0].Runbook.ID)
	}
	if len(matches[0].MatchReasons) == 0 {
		t.Error("expected match reasons")
	}
}

func TestFileAdapterRejectsCyclicDecisionTree(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "cyclic.yaml", cyclicRunbookYAML)
	a := newTestFileAdapter(t, dir)

	matches, err := a.SearchRunbooks(context.Background(), core.AlertSignature{
		AlertType: "anything",
		Severity:  core.SeverityLow,
	})
	if err != nil {
		t.Fatalf("runbook search failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("cyclic runbook must never be indexed, got %d matches", len(matches))
	}
}

func TestFileAdapterGetDocument(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "disk.yaml", diskRunbookYAML)
	a := newTestFileAdapter(t, dir)

	doc, err := a.GetDocument(context.Background(), "disk")
	if err != nil {
		t.Fatalf("get document failed: %v", err)
	}
	if doc.Title != "Disk Space Recovery" {
		t.Errorf("unexpected title %q", doc.Title)
	}

	if _, err := a.GetDocument(context.Background(), "missing"); !core.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestFileAdapterRefreshPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "disk.yaml", diskRunbookYAML)
	a := newTestFileAdapter(t, dir)

	writeTestDoc(t, dir, "second.yaml", "title: Network Triage\ncontent: check the router\n")

	refreshed, err := a.RefreshIndex(context.Background(), true)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !refreshed {
		t.Fatal("expected forced refresh to run")
	}
	if got := a.Metadata().DocumentCount; got != 2 {
		t.Errorf("expected 2 documents after refresh, got %d", got)
	}
}

func TestFileAdapterSkipsUnparsableFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "disk.yaml", diskRunbookYAML)
	writeTestDoc(t, dir, "broken.yaml", "title: [unclosed")
	writeTestDoc(t, dir, "notes.txt", "ignored extension")
	a := newTestFileAdapter(t, dir)

	if got := a.Metadata().DocumentCount; got != 1 {
		t.Errorf("expected 1 indexed document, got %d", got)
	}
}

func TestFileAdapterHealthCheckFailsOnMissingPath(t *testing.T) {
	dir := t.TempDir()
	writeTestDoc(t, dir, "disk.yaml", diskRunbookYAML)
	a := newTestFileAdapter(t, dir)

	if report := a.HealthCheck(context.Background()); !report.Healthy {
		t.Errorf("expected healthy report, got %+v", report)
	}

	a.cfg.Paths = []string{filepath.Join(dir, "gone")}
	if report := a.HealthCheck(context.Background()); report.Healthy {
		t.Error("expected unhealthy report for missing path")
	}
}
