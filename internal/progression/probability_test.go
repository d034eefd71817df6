package progression_test

import (
	"math"
	"testing"

	"ascent/internal/domain"
	"ascent/internal/progression"
)

// uniformCap builds capability metrics whose average is exactly v.
func uniformCap(v float64) domain.CapabilityMetrics {
	return domain.CapabilityMetrics{
		Reasoning:           v,
		Planning:            v,
		SelfImprovementRate: v / 100,
		Generalization:      v,
		Creativity:          v,
		LearningEfficiency:  v,
	}
}

// uniformAlign builds alignment metrics whose average is exactly v.
func uniformAlign(v float64) domain.AlignmentMetrics {
	return domain.AlignmentMetrics{
		SafetyMeasures:     v,
		ValueAlignment:     v,
		ControlMechanisms:  v,
		Interpretability:   v,
		Robustness:         v,
		EthicalConstraints: v,
	}
}

func TestAvgCapabilityNormalizesRate(t *testing.T) {
	m := domain.CapabilityMetrics{SelfImprovementRate: 0.5}
	// 0.5 counts as 50 on the shared scale; the other five scores are zero.
	if got := progression.AvgCapability(m); math.Abs(got-50.0/6) > 1e-9 {
		t.Fatalf("avg capability = %v, want %v", got, 50.0/6)
	}
}

func TestBaseRateRoundsDown(t *testing.T) {
	cases := []struct {
		complexity int
		want       float64
	}{
		{3, 0.25},
		{5, 0.15},
		{8, 0.05},
		{9, 0.05}, // no entry for 9: rounds down to 8
		{10, 0.02},
		{12, 0.02},
		{1, 0.25}, // below the table: lowest defined key
	}
	for _, c := range cases {
		if got := progression.BaseRate(c.complexity); got != c.want {
			t.Fatalf("base rate for complexity %d = %v, want %v", c.complexity, got, c.want)
		}
	}
}

func TestProbabilityNonIncreasingInComplexity(t *testing.T) {
	// With every other input held fixed, climbing the complexity scale must
	// never raise the final probability.
	prev := math.Inf(1)
	for cx := 3; cx <= 10; cx++ {
		b := progression.Probability(progression.ProbabilityInput{
			Complexity:     cx,
			ResearchPoints: 5000,
			Capability:     uniformCap(60),
			Alignment:      uniformAlign(70),
		})
		if b.Probability > prev {
			t.Fatalf("probability rose from %v to %v at complexity %d", prev, b.Probability, cx)
		}
		prev = b.Probability
	}
}

func TestProbabilityBreakdown(t *testing.T) {
	b := progression.Probability(progression.ProbabilityInput{
		Complexity:     5,
		ResearchPoints: 1000,
		Capability:     uniformCap(50),
		Alignment:      uniformAlign(50),
	})
	if b.BaseRate != 0.15 {
		t.Fatalf("base rate = %v", b.BaseRate)
	}
	wantBoost := math.Log10(2) * 0.08
	if math.Abs(b.ResearchBoost-wantBoost) > 1e-9 {
		t.Fatalf("research boost = %v, want %v", b.ResearchBoost, wantBoost)
	}
	if math.Abs(b.CapabilityBonus-0.10) > 1e-9 {
		t.Fatalf("capability bonus = %v, want 0.10", b.CapabilityBonus)
	}
	if math.Abs(b.AlignmentPenalty+0.25) > 1e-9 {
		t.Fatalf("alignment penalty = %v, want -0.25", b.AlignmentPenalty)
	}
	sum := b.BaseRate + b.ResearchBoost + b.CapabilityBonus + b.AlignmentPenalty
	if math.Abs(b.Probability-sum) > 1e-9 {
		t.Fatalf("probability = %v, want sum of terms %v", b.Probability, sum)
	}
}

func TestProbabilityClampedToCap(t *testing.T) {
	b := progression.Probability(progression.ProbabilityInput{
		Complexity:     3,
		ResearchPoints: 1e9,
		Capability:     uniformCap(100),
		Alignment:      uniformAlign(100),
	})
	if b.Probability != progression.ProbabilityCap {
		t.Fatalf("probability = %v, want cap %v", b.Probability, progression.ProbabilityCap)
	}
}

func TestProbabilityNeverNegative(t *testing.T) {
	b := progression.Probability(progression.ProbabilityInput{
		Complexity: 10,
		Capability: uniformCap(0),
		Alignment:  uniformAlign(0),
	})
	// 0.02 + 0 + 0 - 0.5 clamps at zero.
	if b.Probability != 0 {
		t.Fatalf("probability = %v, want 0", b.Probability)
	}
}

func TestResearchBoostCapped(t *testing.T) {
	lower := progression.Probability(progression.ProbabilityInput{
		Complexity: 7, ResearchPoints: 5000,
		Capability: uniformCap(40), Alignment: uniformAlign(60),
	})
	higher := progression.Probability(progression.ProbabilityInput{
		Complexity: 7, ResearchPoints: 50000,
		Capability: uniformCap(40), Alignment: uniformAlign(60),
	})
	if higher.Probability < lower.Probability {
		t.Fatalf("more research lowered probability: %v -> %v", lower.Probability, higher.Probability)
	}
	if higher.ResearchBoost > 0.25 {
		t.Fatalf("research boost %v exceeds 0.25", higher.ResearchBoost)
	}
}
