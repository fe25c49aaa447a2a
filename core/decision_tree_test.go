package core

import (
	"errors"
	"testing"
)

func validTree() *DecisionTree {
	return &DecisionTree{
		ID:   "dt",
		Name: "Disk pressure",
		Branches: []DecisionBranch{
			{ID: "check", Condition: "usage > 90%", Action: "inspect", NextStep: "clean", Confidence: 0.9},
			{ID: "clean", Condition: "logs oversized", Action: "rotate", NextStep: "verify", Confidence: 0.8, RollbackStep: "check"},
			{ID: "verify", Condition: "usage < 80%", Action: "close", Confidence: 0.95},
		},
	}
}

func TestDecisionTreeValidateAccepts(t *testing.T) {
	if err := validTree().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// A nil tree is a runbook without one, not an error.
	var none *DecisionTree
	if err := none.Validate(); err != nil {
		t.Fatalf("nil tree: %v", err)
	}
}

func TestDecisionTreeValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DecisionTree)
	}{
		{"missing tree id", func(dt *DecisionTree) { dt.ID = "" }},
		{"missing branch id", func(dt *DecisionTree) { dt.Branches[0].ID = "" }},
		{"duplicate branch id", func(dt *DecisionTree) { dt.Branches[1].ID = "check" }},
		{"confidence out of range", func(dt *DecisionTree) { dt.Branches[0].Confidence = 1.5 }},
		{"dangling next_step", func(dt *DecisionTree) { dt.Branches[2].NextStep = "ghost" }},
		{"dangling rollback_step", func(dt *DecisionTree) { dt.Branches[1].RollbackStep = "ghost" }},
		{"self cycle", func(dt *DecisionTree) { dt.Branches[2].NextStep = "verify" }},
		{"long cycle", func(dt *DecisionTree) { dt.Branches[2].NextStep = "check" }},
	}
	for _, tc := range cases {
		dt := validTree()
		tc.mutate(dt)
		if err := dt.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}
}

func TestDecisionTreeBranchLookup(t *testing.T) {
	dt := validTree()
	b, ok := dt.Branch("clean")
	if !ok || b.Action != "rotate" {
		t.Fatalf("Branch = %+v ok=%v", b, ok)
	}
	if _, ok := dt.Branch("ghost"); ok {
		t.Fatal("unknown branch id resolved")
	}
}

func validRunbook() *Runbook {
	return &Runbook{
		ID:    "rb-disk",
		Title: "Disk space low",
		SeverityMapping: map[string]Severity{
			"disk-space-low": SeverityHigh,
		},
		DecisionTree: validTree(),
		Procedures: []ProcedureStep{
			{ID: "check-usage", Name: "Check usage"},
			{ID: "clear-logs", Name: "Clear logs", Prerequisites: []string{"check-usage"}},
		},
		Metadata: RunbookMetadata{Confidence: 0.9},
	}
}

func TestValidateRunbookAccepts(t *testing.T) {
	if err := ValidateRunbook(validRunbook()); err != nil {
		t.Fatalf("ValidateRunbook: %v", err)
	}
}

func TestValidateRunbookRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Runbook)
	}{
		{"missing id", func(rb *Runbook) { rb.ID = "" }},
		{"confidence out of range", func(rb *Runbook) { rb.Metadata.Confidence = -0.1 }},
		{"success rate out of range", func(rb *Runbook) { sr := 1.2; rb.Metadata.SuccessRate = &sr }},
		{"bad severity mapping", func(rb *Runbook) { rb.SeverityMapping["x"] = "apocalyptic" }},
		{"bad tree", func(rb *Runbook) { rb.DecisionTree.Branches[0].NextStep = "ghost" }},
		{"step without id", func(rb *Runbook) { rb.Procedures[0].ID = "" }},
		{"duplicate step id", func(rb *Runbook) { rb.Procedures[1].ID = "check-usage" }},
		{"dangling prerequisite", func(rb *Runbook) { rb.Procedures[1].Prerequisites = []string{"ghost"} }},
	}
	for _, tc := range cases {
		rb := validRunbook()
		tc.mutate(rb)
		if err := ValidateRunbook(rb); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}
}
