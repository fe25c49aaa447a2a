package core

import (
	"fmt"
)

// Validate checks a decision tree at load time: branch ids must be
// unique, next/rollback references must resolve, and the next-step
// graph must be acyclic. Traversal never re-checks; rejects here.
func (t *DecisionTree) Validate() error {
	if t == nil {
		return nil
	}
	if t.ID == "" {
		return fmt.Errorf("decision tree has no id: %w", ErrValidation)
	}

	branches := make(map[string]*DecisionBranch, len(t.Branches))
	for i := range t.Branches {
		b := &t.Branches[i]
		if b.ID == "" {
			return fmt.Errorf("decision tree %s: branch %d has no id: %w", t.ID, i, ErrValidation)
		}
		if _, dup := branches[b.ID]; dup {
			return fmt.Errorf("decision tree %s: duplicate branch id %q: %w", t.ID, b.ID, ErrValidation)
		}
		if b.Confidence < 0 || b.Confidence > 1 {
			return fmt.Errorf("decision tree %s: branch %q confidence %.2f out of range: %w", t.ID, b.ID, b.Confidence, ErrValidation)
		}
		branches[b.ID] = b
	}

	for _, b := range branches {
		if b.NextStep != "" {
			if _, ok := branches[b.NextStep]; !ok {
				return fmt.Errorf("decision tree %s: branch %q next_step %q does not exist: %w", t.ID, b.ID, b.NextStep, ErrValidation)
			}
		}
		if b.RollbackStep != "" {
			if _, ok := branches[b.RollbackStep]; !ok {
				return fmt.Errorf("decision tree %s: branch %q rollback_step %q does not exist: %w", t.ID, b.ID, b.RollbackStep, ErrValidation)
			}
		}
	}

	// Cycle detection over next_step edges. Three-color DFS: white
	// (unvisited), gray (on stack), black (done).
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(branches))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("decision tree %s: cycle through branch %q: %w", t.ID, id, ErrValidation)
		case black:
			return nil
		}
		color[id] = gray
		if next := branches[id].NextStep; next != "" {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for id := range branches {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Branch looks up a branch by id.
func (t *DecisionTree) Branch(id string) (*DecisionBranch, bool) {
	for i := range t.Branches {
		if t.Branches[i].ID == id {
			return &t.Branches[i], true
		}
	}
	return nil, false
}

// ValidateRunbook checks a runbook's structural invariants: confidence
// bounds, well-formed decision tree, procedure prerequisite references.
func ValidateRunbook(rb *Runbook) error {
	if rb.ID == "" {
		return fmt.Errorf("runbook has no id: %w", ErrValidation)
	}
	if rb.Metadata.Confidence < 0 || rb.Metadata.Confidence > 1 {
		return fmt.Errorf("runbook %s: confidence %.2f out of range: %w", rb.ID, rb.Metadata.Confidence, ErrValidation)
	}
	if sr := rb.Metadata.SuccessRate; sr != nil && (*sr < 0 || *sr > 1) {
		return fmt.Errorf("runbook %s: success rate %.2f out of range: %w", rb.ID, *sr, ErrValidation)
	}
	for alert, sev := range rb.SeverityMapping {
		if !sev.Valid() {
			return fmt.Errorf("runbook %s: alert %q maps to invalid severity %q: %w", rb.ID, alert, sev, ErrValidation)
		}
	}

	if err := rb.DecisionTree.Validate(); err != nil {
		return fmt.Errorf("runbook %s: %w", rb.ID, err)
	}

	steps := make(map[string]bool, len(rb.Procedures))
	for _, p := range rb.Procedures {
		if p.ID == "" {
			return fmt.Errorf("runbook %s: procedure step without id: %w", rb.ID, ErrValidation)
		}
		if steps[p.ID] {
			return fmt.Errorf("runbook %s: duplicate procedure id %q: %w", rb.ID, p.ID, ErrValidation)
		}
		steps[p.ID] = true
	}
	for _, p := range rb.Procedures {
		for _, pre := range p.Prerequisites {
			if !steps[pre] {
				return fmt.Errorf("runbook %s: step %q prerequisite %q does not exist: %w", rb.ID, p.ID, pre, ErrValidation)
			}
		}
	}
	return nil
}
