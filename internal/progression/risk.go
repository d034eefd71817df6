package progression

import "ascent/internal/domain"

// RiskLevel classifies the capability-alignment gap.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score thresholds. Each level owns its lower bound, so a score of exactly
// 60 is critical.
const (
	riskCriticalAt = 60
	riskHighAt     = 40
	riskMediumAt   = 20
)

// RiskResult is the deterministic output of EvaluateRisk.
type RiskResult struct {
	Level           RiskLevel `json:"level" enum:"low,medium,high,critical"`
	Score           float64   `json:"score"`
	Gap             float64   `json:"gap"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// RiskInput carries the metric state and weighting for one evaluation.
type RiskInput struct {
	Complexity int
	// ComplexityDivisor comes from configuration; score = gap * complexity / divisor.
	ComplexityDivisor float64
	Capability        domain.CapabilityMetrics
	Alignment         domain.AlignmentMetrics
}

// EvaluateRisk scores the capability-alignment gap, amplified by milestone
// complexity. Side-effect free.
func EvaluateRisk(in RiskInput) RiskResult {
	divisor := in.ComplexityDivisor
	if divisor <= 0 {
		divisor = 5
	}
	gap := AvgCapability(in.Capability) - AvgAlignment(in.Alignment)
	score := gap * float64(in.Complexity) / divisor
	level := levelFor(score)
	return RiskResult{
		Level:           level,
		Score:           score,
		Gap:             gap,
		Recommendations: recommendationsFor(level),
	}
}

func levelFor(score float64) RiskLevel {
	switch {
	case score >= riskCriticalAt:
		return RiskCritical
	case score >= riskHighAt:
		return RiskHigh
	case score >= riskMediumAt:
		return RiskMedium
	default:
		return RiskLow
	}
}

// recommendationsFor returns advisory text only; callers must not branch on it.
func recommendationsFor(level RiskLevel) []string {
	switch level {
	case RiskCritical:
		return []string{
			"halt capability research until alignment catches up",
			"commission an external safety audit before the next attempt",
			"expand control mechanisms and interpretability coverage",
		}
	case RiskHigh:
		return []string{
			"redirect research investment toward alignment",
			"resolve open alignment challenges with the safety option",
		}
	case RiskMedium:
		return []string{
			"monitor the capability-alignment gap each attempt",
		}
	default:
		return nil
	}
}
