package server

import (
	"ascent/internal/catalog"
	"ascent/internal/domain"
	"ascent/internal/progression"
)

// Request payloads

type CreateOrgRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Stance string `json:"stance,omitempty" enum:"safety_first,balanced,capability_first"`
}

type AttemptRequest struct {
	ResearchPoints float64 `json:"research_points"`
	ComputeBudget  float64 `json:"compute_budget"`
}

type ResolveChallengeRequest struct {
	Choice string `json:"choice" enum:"safety,capability,defer"`
}

// Responses

type CatalogEntryResponse struct {
	Type            domain.MilestoneType        `json:"type"`
	Complexity      int                         `json:"complexity"`
	Requirements    domain.ResearchRequirements `json:"requirements"`
	EconomicValue   float64                     `json:"economic_value"`
	CapabilityGains domain.CapabilityMetrics    `json:"capability_gains"`
	AlignmentShifts domain.AlignmentMetrics     `json:"alignment_shifts"`
}

func catalogEntryResponse(e catalog.Entry) CatalogEntryResponse {
	return CatalogEntryResponse{
		Type:            e.Type,
		Complexity:      e.Complexity,
		Requirements:    e.Requirements,
		EconomicValue:   e.EconomicValue,
		CapabilityGains: e.CapabilityGains,
		AlignmentShifts: e.AlignmentShifts,
	}
}

func mapCatalogEntries(entries []catalog.Entry) []CatalogEntryResponse {
	out := make([]CatalogEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, catalogEntryResponse(e))
	}
	return out
}

type progressionCheckBody struct {
	MilestoneType        domain.MilestoneType        `json:"milestone_type"`
	CanAttempt           bool                        `json:"can_attempt"`
	MissingPrerequisites []domain.MilestoneType      `json:"missing_prerequisites,omitempty"`
	RequirementsMet      progression.RequirementsMet `json:"requirements_met"`
}

type probabilityBody struct {
	MilestoneType domain.MilestoneType             `json:"milestone_type"`
	Breakdown     progression.ProbabilityBreakdown `json:"breakdown"`
}

type riskBody struct {
	MilestoneType domain.MilestoneType   `json:"milestone_type"`
	Risk          progression.RiskResult `json:"risk"`
}

type impactBody struct {
	MilestoneType domain.MilestoneType     `json:"milestone_type"`
	Impact        progression.ImpactResult `json:"impact"`
}
