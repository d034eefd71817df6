package progression

import "ascent/internal/domain"

// Contract bounds for generated challenge options.
const (
	safetyCapPenaltyMax  = 10 // capability delta in [-10, 0]
	safetyAlignGainMin   = 10
	safetyAlignGainMax   = 30
	safetyDelayMaxMonths = 6

	capGainMin        = 10
	capGainMax        = 30
	capAlignRiskMin   = 5 // alignment delta in [-20, -5]
	capAlignRiskMax   = 20
	capAccelMaxMonths = 4
)

// GenerateChallenge produces a trade-off for one milestone. scenario is the
// catalog's per-type text; roll supplies uniform [0,1) values. Complexity
// widens the stakes slightly: later milestones draw from the upper half of
// each range.
func GenerateChallenge(t domain.MilestoneType, complexity int, scenario string, roll func() float64) domain.AlignmentChallenge {
	// bias in [0, 0.5] shifts draws toward the top of the range.
	bias := float64(complexity-3) / 14
	draw := func(lo, hi float64) float64 {
		span := hi - lo
		return lo + span*bias + span*(1-bias)*roll()
	}
	return domain.AlignmentChallenge{
		MilestoneType: t,
		Scenario:      scenario,
		SafetyOption: domain.ChallengeOption{
			Label:           "prioritize safety",
			CapabilityDelta: -draw(0, safetyCapPenaltyMax),
			AlignmentDelta:  draw(safetyAlignGainMin, safetyAlignGainMax),
			Months:          draw(0, safetyDelayMaxMonths),
		},
		CapabilityOption: domain.ChallengeOption{
			Label:           "push capability",
			CapabilityDelta: draw(capGainMin, capGainMax),
			AlignmentDelta:  -draw(capAlignRiskMin, capAlignRiskMax),
			Months:          -draw(0, capAccelMaxMonths),
		},
	}
}

// ValidChoice reports whether s is a recognized challenge decision.
func ValidChoice(s string) bool {
	switch domain.ChallengeChoice(s) {
	case domain.ChoiceSafety, domain.ChoiceCapability, domain.ChoiceDefer:
		return true
	}
	return false
}

// ApplyChoice returns the record's metric and schedule state after resolving
// ch with choice. Defer changes nothing; the opportunity cost is implicit.
func ApplyChoice(rec domain.ProgressionRecord, ch domain.AlignmentChallenge, choice domain.ChallengeChoice) domain.ProgressionRecord {
	var opt domain.ChallengeOption
	switch choice {
	case domain.ChoiceSafety:
		opt = ch.SafetyOption
	case domain.ChoiceCapability:
		opt = ch.CapabilityOption
	default:
		return rec
	}
	rec.Capability = ShiftCapability(rec.Capability, opt.CapabilityDelta)
	rec.Alignment = ShiftAlignment(rec.Alignment, opt.AlignmentDelta)
	rec.MonthsInProgress += opt.Months
	if rec.MonthsInProgress < 0 {
		rec.MonthsInProgress = 0
	}
	return rec
}
