// Package catalog freezes the parsed milestone configuration into the
// process-wide read-only registry shared by the engines. A Catalog is built
// once at startup and never mutated.
package catalog

import (
	"fmt"

	"ascent/internal/config"
	"ascent/internal/domain"
)

// Entry is one compiled milestone definition.
type Entry struct {
	Type            domain.MilestoneType
	Complexity      int
	Requirements    domain.ResearchRequirements
	EconomicValue   float64
	CapabilityGains domain.CapabilityMetrics
	AlignmentShifts domain.AlignmentMetrics
	Scenario        string
}

// Catalog is the immutable milestone registry plus risk tuning.
type Catalog struct {
	entries           map[domain.MilestoneType]Entry
	complexityDivisor float64
}

// Compile validates cfg and builds the registry.
func Compile(cfg *config.Config) (*Catalog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	entries := make(map[domain.MilestoneType]Entry, len(cfg.Catalog.Milestones))
	for name, spec := range cfg.Catalog.Milestones {
		t := domain.MilestoneType(name)
		prereqs := make([]domain.MilestoneType, 0, len(spec.Prerequisites))
		for _, p := range spec.Prerequisites {
			prereqs = append(prereqs, domain.MilestoneType(p))
		}
		entries[t] = Entry{
			Type:       t,
			Complexity: spec.Complexity,
			Requirements: domain.ResearchRequirements{
				ResearchPointsCost:    spec.ResearchPointsCost,
				Prerequisites:         prereqs,
				MinimumCapability:     spec.MinimumCapability,
				MinimumAlignment:      spec.MinimumAlignment,
				EstimatedMonths:       spec.EstimatedMonths,
				ComputeBudgetRequired: spec.ComputeBudget,
			},
			EconomicValue: spec.EconomicValue,
			CapabilityGains: domain.CapabilityMetrics{
				Reasoning:           spec.CapabilityGains.Reasoning,
				Planning:            spec.CapabilityGains.Planning,
				SelfImprovementRate: spec.CapabilityGains.SelfImprovementRate,
				Generalization:      spec.CapabilityGains.Generalization,
				Creativity:          spec.CapabilityGains.Creativity,
				LearningEfficiency:  spec.CapabilityGains.LearningEfficiency,
			},
			AlignmentShifts: domain.AlignmentMetrics{
				SafetyMeasures:     spec.AlignmentShifts.SafetyMeasures,
				ValueAlignment:     spec.AlignmentShifts.ValueAlignment,
				ControlMechanisms:  spec.AlignmentShifts.ControlMechanisms,
				Interpretability:   spec.AlignmentShifts.Interpretability,
				Robustness:         spec.AlignmentShifts.Robustness,
				EthicalConstraints: spec.AlignmentShifts.EthicalConstraints,
			},
			Scenario: spec.ChallengeScenario,
		}
	}
	return &Catalog{
		entries:           entries,
		complexityDivisor: cfg.Risk.ComplexityDivisor,
	}, nil
}

// MustDefault compiles the built-in catalog and panics on failure. The
// default template is covered by tests, so a panic here means a broken build.
func MustDefault() *Catalog {
	c, err := Compile(config.Default())
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

// Entry looks up one milestone definition.
func (c *Catalog) Entry(t domain.MilestoneType) (Entry, error) {
	e, ok := c.entries[t]
	if !ok {
		return Entry{}, fmt.Errorf("unknown milestone type %s", t)
	}
	return e, nil
}

// Complexity returns the complexity rating for t, or 0 if unknown.
func (c *Catalog) Complexity(t domain.MilestoneType) int {
	return c.entries[t].Complexity
}

// ComplexityDivisor is the configured risk weighting divisor.
func (c *Catalog) ComplexityDivisor() float64 {
	return c.complexityDivisor
}

// Entries returns all definitions in ladder order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, t := range domain.AllMilestoneTypes() {
		if e, ok := c.entries[t]; ok {
			out = append(out, e)
		}
	}
	return out
}
