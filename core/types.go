package core

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ordered alert severity scale.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison and adjacency checks.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a member of the severity enum.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal position of the severity (info=0 .. critical=4).
// Unknown severities rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Adjacent reports whether two severities are neighbors on the scale.
func (s Severity) Adjacent(other Severity) bool {
	a, b := s.Rank(), other.Rank()
	if a < 0 || b < 0 {
		return false
	}
	diff := a - b
	return diff == 1 || diff == -1
}

// ParseSeverity validates and normalizes a severity string.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid severity %q: %w", raw, ErrValidation)
	}
	return s, nil
}

// SourceType identifies the kind of documentation source behind an adapter.
type SourceType string

const (
	SourceTypeFile     SourceType = "file"
	SourceTypeWeb      SourceType = "web"
	SourceTypeGitHost  SourceType = "git-host"
	SourceTypeWiki     SourceType = "wiki"
	SourceTypeDatabase SourceType = "database"
	SourceTypeOther    SourceType = "other"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeFile, SourceTypeWeb, SourceTypeGitHost, SourceTypeWiki, SourceTypeDatabase, SourceTypeOther:
		return true
	}
	return false
}

// Category classifies a document.
type Category string

const (
	CategoryRunbook   Category = "runbook"
	CategoryProcedure Category = "procedure"
	CategoryGuide     Category = "guide"
	CategoryGeneral   Category = "general"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRunbook, CategoryProcedure, CategoryGuide, CategoryGeneral:
		return true
	}
	return false
}

// ContentType tags cached payloads and drives TTL and warmup policy.
type ContentType string

const (
	ContentTypeRunbooks      ContentType = "runbooks"
	ContentTypeProcedures    ContentType = "procedures"
	ContentTypeDecisionTrees ContentType = "decision-trees"
	ContentTypeKnowledgeBase ContentType = "knowledge-base"
	ContentTypeWebResponse   ContentType = "web-response"
)

// ContentTypes lists every cacheable content-type tag.
func ContentTypes() []ContentType {
	return []ContentType{
		ContentTypeRunbooks,
		ContentTypeProcedures,
		ContentTypeDecisionTrees,
		ContentTypeKnowledgeBase,
		ContentTypeWebResponse,
	}
}

// Document is the engine's immutable view of one source-local document.
// Refresh replaces documents wholesale, it never mutates in place.
type Document struct {
	Source      string            `json:"source" yaml:"source"`
	LocalID     string            `json:"local_id" yaml:"local_id"`
	Title       string            `json:"title" yaml:"title"`
	Content     string            `json:"content" yaml:"content"`
	Category    Category          `json:"category,omitempty" yaml:"category,omitempty"`
	LastUpdated time.Time         `json:"last_updated" yaml:"last_updated"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ID returns the federated document identity <source>:<escaped local id>.
func (d *Document) ID() string {
	return ComposeDocumentID(d.Source, d.LocalID)
}

// ComposeDocumentID builds the engine-wide document id. The colon is the
// reserved separator, so occurrences in the local id are escaped.
func ComposeDocumentID(source, localID string) string {
	return source + ":" + strings.ReplaceAll(localID, ":", "%3A")
}

// SplitDocumentID splits a federated id back into source name and local id.
func SplitDocumentID(id string) (source, localID string, err error) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed document id %q: %w", id, ErrValidation)
	}
	return id[:idx], strings.ReplaceAll(id[idx+1:], "%3A", ":"), nil
}

// RunbookMetadata carries authorship and outcome rollups for a runbook.
type RunbookMetadata struct {
	Author                   string    `json:"author,omitempty" yaml:"author,omitempty"`
	Confidence               float64   `json:"confidence" yaml:"confidence"`
	SuccessRate              *float64  `json:"success_rate,omitempty" yaml:"success_rate,omitempty"`
	AvgResolutionMinutes     *float64  `json:"avg_resolution_minutes,omitempty" yaml:"avg_resolution_minutes,omitempty"`
	SuccessCount             int64     `json:"success_count,omitempty" yaml:"success_count,omitempty"`
	FailureCount             int64     `json:"failure_count,omitempty" yaml:"failure_count,omitempty"`
	LastFeedback             time.Time `json:"last_feedback,omitempty" yaml:"-"`
}

// Runbook is a structured operational document: triggers, a decision
// tree, ordered procedures and escalation info.
type Runbook struct {
	ID              string               `json:"id" yaml:"id"`
	Version         string               `json:"version,omitempty" yaml:"version,omitempty"`
	Title           string               `json:"title" yaml:"title"`
	Source          string               `json:"source,omitempty" yaml:"-"`
	Triggers        []string             `json:"triggers" yaml:"triggers"`
	SeverityMapping map[string]Severity  `json:"severity_mapping,omitempty" yaml:"severity_mapping,omitempty"`
	DecisionTree    *DecisionTree        `json:"decision_tree,omitempty" yaml:"decision_tree,omitempty"`
	Procedures      []ProcedureStep      `json:"procedures,omitempty" yaml:"procedures,omitempty"`
	EscalationPath  string               `json:"escalation_path,omitempty" yaml:"escalation_path,omitempty"`
	Metadata        RunbookMetadata      `json:"metadata" yaml:"metadata"`
	LastUpdated     time.Time            `json:"last_updated" yaml:"last_updated"`
}

// DecisionTree is a named DAG of branches guiding an operator through
// an incident. Cycles are rejected at load time, see Validate.
type DecisionTree struct {
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name" yaml:"name"`
	Description   string           `json:"description,omitempty" yaml:"description,omitempty"`
	Branches      []DecisionBranch `json:"branches" yaml:"branches"`
	DefaultAction string           `json:"default_action,omitempty" yaml:"default_action,omitempty"`
}

// DecisionBranch is one node of a decision tree. NextStep and
// RollbackStep reference other branch ids and form the DAG edges.
type DecisionBranch struct {
	ID           string  `json:"id" yaml:"id"`
	Condition    string  `json:"condition" yaml:"condition"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	Action       string  `json:"action" yaml:"action"`
	NextStep     string  `json:"next_step,omitempty" yaml:"next_step,omitempty"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
	RollbackStep string  `json:"rollback_step,omitempty" yaml:"rollback_step,omitempty"`
}

// ProcedureStep is one atomic action within a runbook.
type ProcedureStep struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Command         string   `json:"command,omitempty" yaml:"command,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty" yaml:"expected_outcome,omitempty"`
	TimeoutSeconds  int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Prerequisites   []string `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Rollback        string   `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	ToolsRequired   []string `json:"tools_required,omitempty" yaml:"tools_required,omitempty"`
}

// SearchResult is one federated hit surfaced to callers. Every result
// carries a confidence in [0, 1].
type SearchResult struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Excerpt         string            `json:"excerpt"`
	Source          string            `json:"source"`
	SourceType      SourceType        `json:"source_type"`
	Category        Category          `json:"category,omitempty"`
	Confidence      float64           `json:"confidence"`
	MatchReasons    []string          `json:"match_reasons,omitempty"`
	RetrievalTimeMS int64             `json:"retrieval_time_ms"`
	LastUpdated     time.Time         `json:"last_updated"`
	URL             string            `json:"url,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RunbookMatch pairs a runbook with the signals that selected it.
type RunbookMatch struct {
	Runbook      *Runbook `json:"runbook"`
	Confidence   float64  `json:"confidence"`
	MatchReasons []string `json:"match_reasons"`
}

// SearchFilters restricts adapter searches. Zero value means adapter
// defaults (threshold 0.0, max 50 results).
type SearchFilters struct {
	SourceTypes   []SourceType `json:"source_types,omitempty"`
	MaxAgeDays    int          `json:"max_age_days,omitempty"`
	Severity      Severity     `json:"severity,omitempty"`
	Categories    []Category   `json:"categories,omitempty"`
	MinConfidence float64      `json:"min_confidence,omitempty"`
	MaxResults    int          `json:"max_results,omitempty"`
}

// AllowsSourceType reports whether the filter permits the given type.
func (f SearchFilters) AllowsSourceType(t SourceType) bool {
	if len(f.SourceTypes) == 0 {
		return true
	}
	for _, st := range f.SourceTypes {
		if st == t {
			return true
		}
	}
	return false
}

// AllowsCategory reports whether the filter permits the given category.
func (f SearchFilters) AllowsCategory(c Category) bool {
	if len(f.Categories) == 0 {
		return true
	}
	for _, fc := range f.Categories {
		if fc == c {
			return true
		}
	}
	return false
}

// EffectiveMaxResults applies the adapter default of 50.
func (f SearchFilters) EffectiveMaxResults() int {
	if f.MaxResults <= 0 {
		return 50
	}
	return f.MaxResults
}

// AlertSignature is the operational question: what fired, how bad, where.
type AlertSignature struct {
	AlertType       string   `json:"alert_type"`
	Severity        Severity `json:"severity"`
	AffectedSystems []string `json:"affected_systems"`
	Context         string   `json:"context,omitempty"`
}

// HealthReport is one adapter's answer to a health probe.
type HealthReport struct {
	Healthy  bool              `json:"healthy"`
	Latency  time.Duration     `json:"latency"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SourceMetadata describes an adapter's corpus and service record.
type SourceMetadata struct {
	Name          string        `json:"name"`
	Type          SourceType    `json:"type"`
	DocumentCount int           `json:"document_count"`
	LastIndexed   time.Time     `json:"last_indexed"`
	AvgLatency    time.Duration `json:"avg_latency"`
	SuccessRate   float64       `json:"success_rate"`
}

// ClampConfidence bounds a score to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
