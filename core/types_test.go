package core

import (
	"errors"
	"testing"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in   string
		want Severity
	}{
		{"critical", SeverityCritical},
		{"HIGH", SeverityHigh},
		{"  medium  ", SeverityMedium},
		{"Low", SeverityLow},
		{"info", SeverityInfo},
	}
	for _, tc := range cases {
		got, err := ParseSeverity(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseSeverity(%q) = %q, %v", tc.in, got, err)
		}
	}

	for _, bad := range []string{"", "urgent", "sev1"} {
		if _, err := ParseSeverity(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseSeverity(%q): got %v", bad, err)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	if SeverityInfo.Rank() != 0 || SeverityCritical.Rank() != 4 {
		t.Fatalf("ranks: info=%d critical=%d", SeverityInfo.Rank(), SeverityCritical.Rank())
	}
	if Severity("bogus").Rank() != -1 {
		t.Fatal("unknown severity should rank below info")
	}

	if !SeverityHigh.Adjacent(SeverityCritical) || !SeverityHigh.Adjacent(SeverityMedium) {
		t.Fatal("high should neighbor medium and critical")
	}
	if SeverityLow.Adjacent(SeverityCritical) {
		t.Fatal("low and critical are not neighbors")
	}
	if SeverityLow.Adjacent(SeverityLow) {
		t.Fatal("a severity is not its own neighbor")
	}
	if Severity("bogus").Adjacent(SeverityLow) {
		t.Fatal("unknown severities have no neighbors")
	}
}

func TestDocumentIDRoundTrip(t *testing.T) {
	cases := []struct {
		source, local string
		want          string
	}{
		{"wiki", "page-42", "wiki:page-42"},
		{"git", "ops/runbooks:disk.md", "git:ops/runbooks%3Adisk.md"},
	}
	for _, tc := range cases {
		id := ComposeDocumentID(tc.source, tc.local)
		if id != tc.want {
			t.Errorf("ComposeDocumentID = %q, want %q", id, tc.want)
			continue
		}
		src, local, err := SplitDocumentID(id)
		if err != nil || src != tc.source || local != tc.local {
			t.Errorf("SplitDocumentID(%q) = %q, %q, %v", id, src, local, err)
		}
	}
}

func TestSplitDocumentIDMalformed(t *testing.T) {
	for _, bad := range []string{"", "no-separator", ":leading", "trailing:"} {
		if _, _, err := SplitDocumentID(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("SplitDocumentID(%q): got %v", bad, err)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.42, 0.42}, {1, 1}, {1.7, 1},
	}
	for _, tc := range cases {
		if got := ClampConfidence(tc.in); got != tc.want {
			t.Errorf("ClampConfidence(%v) = %v", tc.in, got)
		}
	}
}

func TestSearchFilters(t *testing.T) {
	var zero SearchFilters
	if zero.EffectiveMaxResults() != 50 {
		t.Errorf("default max results = %d", zero.EffectiveMaxResults())
	}
	if !zero.AllowsSourceType(SourceTypeWiki) || !zero.AllowsCategory(CategoryGuide) {
		t.Error("zero filter should allow everything")
	}

	f := SearchFilters{
		SourceTypes: []SourceType{SourceTypeFile},
		Categories:  []Category{CategoryRunbook},
		MaxResults:  10,
	}
	if f.EffectiveMaxResults() != 10 {
		t.Errorf("max results = %d", f.EffectiveMaxResults())
	}
	if f.AllowsSourceType(SourceTypeWeb) || !f.AllowsSourceType(SourceTypeFile) {
		t.Error("source type filter not honored")
	}
	if f.AllowsCategory(CategoryGuide) || !f.AllowsCategory(CategoryRunbook) {
		t.Error("category filter not honored")
	}
}

func TestEnumValidity(t *testing.T) {
	for _, st := range []SourceType{SourceTypeFile, SourceTypeWeb, SourceTypeGitHost, SourceTypeWiki, SourceTypeDatabase, SourceTypeOther} {
		if !st.Valid() {
			t.Errorf("%s should be valid", st)
		}
	}
	if SourceType("ftp").Valid() {
		t.Error("unknown source type accepted")
	}

	for _, c := range []Category{CategoryRunbook, CategoryProcedure, CategoryGuide, CategoryGeneral} {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Category("memo").Valid() {
		t.Error("unknown category accepted")
	}
}
