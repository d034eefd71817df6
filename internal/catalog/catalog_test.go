package catalog_test

import (
	"testing"

	"ascent/internal/catalog"
	"ascent/internal/config"
	"ascent/internal/domain"
)

func TestCompileDefault(t *testing.T) {
	cat, err := catalog.Compile(config.Default())
	if err != nil {
		t.Fatalf("compile default: %v", err)
	}
	entries := cat.Entries()
	if len(entries) != len(domain.AllMilestoneTypes()) {
		t.Fatalf("entries = %d, want %d", len(entries), len(domain.AllMilestoneTypes()))
	}
	// Ladder order.
	for i, mt := range domain.AllMilestoneTypes() {
		if entries[i].Type != mt {
			t.Fatalf("entry %d = %s, want %s", i, entries[i].Type, mt)
		}
	}
	if cat.ComplexityDivisor() != 5 {
		t.Fatalf("divisor = %v, want 5", cat.ComplexityDivisor())
	}
}

func TestEntryLookup(t *testing.T) {
	cat := catalog.MustDefault()
	e, err := cat.Entry(domain.Superintelligence)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if e.Complexity != 10 {
		t.Fatalf("complexity = %d, want 10", e.Complexity)
	}
	if e.Scenario == "" {
		t.Fatal("scenario text missing")
	}
	if _, err := cat.Entry(domain.MilestoneType("warp_drive")); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestRequirementsCarryCatalogCosts(t *testing.T) {
	cat := catalog.MustDefault()
	e, err := cat.Entry(domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	req := e.Requirements
	if req.ResearchPointsCost <= 0 || req.ComputeBudgetRequired <= 0 || req.EstimatedMonths <= 0 {
		t.Fatalf("costs not populated: %+v", req)
	}
	if len(req.Prerequisites) != 0 {
		t.Fatalf("root milestone should have no prerequisites: %v", req.Prerequisites)
	}
}
