package progression

import "ascent/internal/domain"

// RequirementsMet records each gate criterion separately so callers can show
// exactly what is blocking an attempt.
type RequirementsMet struct {
	Prerequisites  bool `json:"prerequisites"`
	Capability     bool `json:"capability"`
	Alignment      bool `json:"alignment"`
	ResearchPoints bool `json:"research_points"`
	ComputeBudget  bool `json:"compute_budget"`
}

// PrerequisiteResult is the outcome of one gate check.
type PrerequisiteResult struct {
	CanAttempt           bool                   `json:"can_attempt"`
	MissingPrerequisites []domain.MilestoneType `json:"missing_prerequisites,omitempty"`
	RequirementsMet      RequirementsMet        `json:"requirements_met"`
}

// CheckPrerequisites gates a milestone attempt. achieved must be a consistent
// snapshot of the organization's achieved set; the caller is responsible for
// reading it atomically with the record. Partial prerequisite credit is not
// permitted: every listed type must be achieved.
func CheckPrerequisites(req domain.ResearchRequirements, achieved map[domain.MilestoneType]bool, rec domain.ProgressionRecord) PrerequisiteResult {
	res := PrerequisiteResult{
		RequirementsMet: RequirementsMet{
			Prerequisites:  true,
			Capability:     AvgCapability(rec.Capability) >= req.MinimumCapability,
			Alignment:      AvgAlignment(rec.Alignment) >= req.MinimumAlignment,
			ResearchPoints: rec.ResearchPointsInvested >= req.ResearchPointsCost,
			ComputeBudget:  rec.ComputeBudgetSpent >= req.ComputeBudgetRequired,
		},
	}
	for _, p := range req.Prerequisites {
		if !achieved[p] {
			res.MissingPrerequisites = append(res.MissingPrerequisites, p)
		}
	}
	res.RequirementsMet.Prerequisites = len(res.MissingPrerequisites) == 0
	m := res.RequirementsMet
	res.CanAttempt = m.Prerequisites && m.Capability && m.Alignment && m.ResearchPoints && m.ComputeBudget
	return res
}
