package progression

import (
	"math"
	"sort"

	"ascent/internal/domain"
)

// ProbabilityCap bounds every achievement probability: even a maximally
// resourced attempt can fail.
const ProbabilityCap = 0.75

// baseRates maps complexity to the base success rate. Complexities without
// an exact entry round down to the nearest defined key, which keeps the
// curve monotonically non-increasing in complexity.
var baseRates = map[int]float64{
	3:  0.25,
	4:  0.20,
	5:  0.15,
	6:  0.10,
	7:  0.08,
	8:  0.05,
	10: 0.02,
}

// BaseRate returns the base success rate for a complexity rating.
func BaseRate(complexity int) float64 {
	if r, ok := baseRates[complexity]; ok {
		return r
	}
	keys := make([]int, 0, len(baseRates))
	for k := range baseRates {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	best := keys[0]
	for _, k := range keys {
		if k <= complexity {
			best = k
		}
	}
	return baseRates[best]
}

// ProbabilityInput is a snapshot of everything the probability formula reads.
type ProbabilityInput struct {
	Complexity     int
	ResearchPoints float64
	Capability     domain.CapabilityMetrics
	Alignment      domain.AlignmentMetrics

	// LearningBonus is an extension point for a failed-attempt learning
	// curve. It is currently always zero.
	LearningBonus float64
}

// ProbabilityBreakdown is the clamped probability and its additive terms.
type ProbabilityBreakdown struct {
	BaseRate         float64 `json:"base_rate"`
	ResearchBoost    float64 `json:"research_boost"`
	CapabilityBonus  float64 `json:"capability_bonus"`
	AlignmentPenalty float64 `json:"alignment_penalty"`
	Probability      float64 `json:"probability"`
}

// Probability computes the bounded achievement probability.
//
//	base rate          table lookup by complexity, rounding down
//	research boost     min(0.25, log10(points/1000 + 1) * 0.08)
//	capability bonus   avgCapability/100 * 0.20
//	alignment penalty  -(100 - avgAlignment)/200
//
// The sum is clamped to [0, ProbabilityCap].
func Probability(in ProbabilityInput) ProbabilityBreakdown {
	points := in.ResearchPoints
	if points < 0 {
		points = 0
	}
	b := ProbabilityBreakdown{
		BaseRate:         BaseRate(in.Complexity),
		ResearchBoost:    math.Min(0.25, math.Log10(points/1000+1)*0.08),
		CapabilityBonus:  AvgCapability(in.Capability) / 100 * 0.20,
		AlignmentPenalty: -(100 - AvgAlignment(in.Alignment)) / 200,
	}
	total := b.BaseRate + b.ResearchBoost + b.CapabilityBonus + b.AlignmentPenalty + in.LearningBonus
	b.Probability = clamp(total, 0, ProbabilityCap)
	return b
}

// ProbabilityFromRecord recomputes the breakdown from a stored record, given
// the milestone's complexity. Used to verify the pure-function property
// against persisted state.
func ProbabilityFromRecord(rec domain.ProgressionRecord, complexity int) ProbabilityBreakdown {
	return Probability(ProbabilityInput{
		Complexity:     complexity,
		ResearchPoints: rec.ResearchPointsInvested,
		Capability:     rec.Capability,
		Alignment:      rec.Alignment,
	})
}
