// Package progression holds the pure calculation engines: probability, risk,
// impact, prerequisite validation and challenge generation. Nothing here
// touches storage; every function is deterministic given its inputs (the
// challenge generator takes its randomness as an argument) and is
// re-derivable from a ProgressionRecord snapshot alone.
package progression

import "ascent/internal/domain"

// AvgCapability is the arithmetic mean of the six capability sub-scores on
// the 0..100 scale. SelfImprovementRate is a [0,1] rate and is normalized
// x100 before averaging.
func AvgCapability(m domain.CapabilityMetrics) float64 {
	sum := m.Reasoning +
		m.Planning +
		m.SelfImprovementRate*100 +
		m.Generalization +
		m.Creativity +
		m.LearningEfficiency
	return sum / 6
}

// AvgAlignment is the arithmetic mean of the six alignment sub-scores.
func AvgAlignment(m domain.AlignmentMetrics) float64 {
	sum := m.SafetyMeasures +
		m.ValueAlignment +
		m.ControlMechanisms +
		m.Interpretability +
		m.Robustness +
		m.EthicalConstraints
	return sum / 6
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyCapabilityGains adds gains to m, clamping each sub-score to its bounds.
func ApplyCapabilityGains(m, gains domain.CapabilityMetrics) domain.CapabilityMetrics {
	return domain.CapabilityMetrics{
		Reasoning:           clamp(m.Reasoning+gains.Reasoning, 0, 100),
		Planning:            clamp(m.Planning+gains.Planning, 0, 100),
		SelfImprovementRate: clamp(m.SelfImprovementRate+gains.SelfImprovementRate, 0, 1),
		Generalization:      clamp(m.Generalization+gains.Generalization, 0, 100),
		Creativity:          clamp(m.Creativity+gains.Creativity, 0, 100),
		LearningEfficiency:  clamp(m.LearningEfficiency+gains.LearningEfficiency, 0, 100),
	}
}

// ApplyAlignmentShifts adds shifts to m, clamping each sub-score to 0..100.
func ApplyAlignmentShifts(m, shifts domain.AlignmentMetrics) domain.AlignmentMetrics {
	return domain.AlignmentMetrics{
		SafetyMeasures:     clamp(m.SafetyMeasures+shifts.SafetyMeasures, 0, 100),
		ValueAlignment:     clamp(m.ValueAlignment+shifts.ValueAlignment, 0, 100),
		ControlMechanisms:  clamp(m.ControlMechanisms+shifts.ControlMechanisms, 0, 100),
		Interpretability:   clamp(m.Interpretability+shifts.Interpretability, 0, 100),
		Robustness:         clamp(m.Robustness+shifts.Robustness, 0, 100),
		EthicalConstraints: clamp(m.EthicalConstraints+shifts.EthicalConstraints, 0, 100),
	}
}

// ShiftCapability applies a uniform delta to every capability sub-score.
// The self-improvement rate receives delta/100 to stay on its own scale.
func ShiftCapability(m domain.CapabilityMetrics, delta float64) domain.CapabilityMetrics {
	return ApplyCapabilityGains(m, domain.CapabilityMetrics{
		Reasoning:           delta,
		Planning:            delta,
		SelfImprovementRate: delta / 100,
		Generalization:      delta,
		Creativity:          delta,
		LearningEfficiency:  delta,
	})
}

// ShiftAlignment applies a uniform delta to every alignment sub-score.
func ShiftAlignment(m domain.AlignmentMetrics, delta float64) domain.AlignmentMetrics {
	return ApplyAlignmentShifts(m, domain.AlignmentMetrics{
		SafetyMeasures:     delta,
		ValueAlignment:     delta,
		ControlMechanisms:  delta,
		Interpretability:   delta,
		Robustness:         delta,
		EthicalConstraints: delta,
	})
}
