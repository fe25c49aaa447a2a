package tools

import (
	"strings"
	"sync"
	"time"

	"github.com/runbookops/runbookd/core"
)

// Outcome is the reported result of following a runbook procedure.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// ParseOutcome validates and normalizes an outcome string.
func ParseOutcome(raw string) (Outcome, bool) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeSuccess:
		return OutcomeSuccess, true
	case OutcomeFailure:
		return OutcomeFailure, true
	case OutcomePartial:
		return OutcomePartial, true
	}
	return "", false
}

// FeedbackEntry is one recorded resolution report.
type FeedbackEntry struct {
	RunbookID         string    `json:"runbook_id"`
	ProcedureID       string    `json:"procedure_id"`
	Outcome           Outcome   `json:"outcome"`
	ResolutionMinutes float64   `json:"resolution_time_minutes"`
	Notes             string    `json:"notes,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// FeedbackRollup is the running aggregate per runbook. Updates are
// additive: N reports move the counters by exactly N.
type FeedbackRollup struct {
	SuccessCount         int64     `json:"success_count"`
	FailureCount         int64     `json:"failure_count"`
	PartialCount         int64     `json:"partial_count"`
	AvgResolutionMinutes float64   `json:"avg_resolution_minutes"`
	LastFeedback         time.Time `json:"last_feedback"`
}

// SuccessRate returns successes over all reports, or 0 with no data.
func (r FeedbackRollup) SuccessRate() float64 {
	total := r.SuccessCount + r.FailureCount + r.PartialCount
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total)
}

// FeedbackStore is the resolution-feedback ledger. Durability is a
// future hook; the engine treats it as in-memory state.
type FeedbackStore interface {
	Record(entry FeedbackEntry) FeedbackRollup
	Rollup(runbookID string) (FeedbackRollup, bool)
	Recent(limit int) []FeedbackEntry
}

// MemoryFeedbackStore is a bounded append-only ledger with per-runbook
// rollups. At capacity the oldest entries are evicted first; rollups
// are never rolled back by eviction.
type MemoryFeedbackStore struct {
	mu       sync.Mutex
	capacity int
	entries  []FeedbackEntry
	rollups  map[string]*rollupState
}

type rollupState struct {
	FeedbackRollup
	totalMinutes float64
	reports      int64
}

// NewMemoryFeedbackStore creates the ledger. Capacity bounds retained
// entries, not rollups.
func NewMemoryFeedbackStore(capacity int) *MemoryFeedbackStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryFeedbackStore{
		capacity: capacity,
		rollups:  make(map[string]*rollupState),
	}
}

// Record appends an entry and returns the updated rollup.
func (s *MemoryFeedbackStore) Record(entry FeedbackEntry) FeedbackRollup {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[len(s.entries)-s.capacity:]
	}

	state, ok := s.rollups[entry.RunbookID]
	if !ok {
		state = &rollupState{}
		s.rollups[entry.RunbookID] = state
	}

	switch entry.Outcome {
	case OutcomeSuccess:
		state.SuccessCount++
	case OutcomeFailure:
		state.FailureCount++
	case OutcomePartial:
		state.PartialCount++
	}
	state.reports++
	state.totalMinutes += entry.ResolutionMinutes
	state.AvgResolutionMinutes = state.totalMinutes / float64(state.reports)
	state.LastFeedback = entry.RecordedAt

	return state.FeedbackRollup
}

// Rollup returns the aggregate for one runbook.
func (s *MemoryFeedbackStore) Rollup(runbookID string) (FeedbackRollup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.rollups[runbookID]
	if !ok {
		return FeedbackRollup{}, false
	}
	return state.FeedbackRollup, true
}

// Recent returns the newest entries, newest first.
func (s *MemoryFeedbackStore) Recent(limit int) []FeedbackEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]FeedbackEntry, 0, limit)
	for i := len(s.entries) - 1; i >= len(s.entries)-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// decorateRunbook overlays the feedback rollup onto a copy of the
// runbook's metadata. The source copy stays untouched; feedback is
// engine state, not source state.
func decorateRunbook(rb *core.Runbook, store FeedbackStore) *core.Runbook {
	rollup, ok := store.Rollup(rb.ID)
	if !ok {
		return rb
	}
	decorated := *rb
	decorated.Metadata.SuccessCount = rollup.SuccessCount
	decorated.Metadata.FailureCount = rollup.FailureCount
	rate := rollup.SuccessRate()
	decorated.Metadata.SuccessRate = &rate
	avg := rollup.AvgResolutionMinutes
	decorated.Metadata.AvgResolutionMinutes = &avg
	decorated.Metadata.LastFeedback = rollup.LastFeedback
	return &decorated
}

var _ FeedbackStore = (*MemoryFeedbackStore)(nil)
