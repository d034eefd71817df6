package domain

// MilestoneType identifies one of the twelve capability breakthroughs an
// organization can pursue. The set is closed; the catalog assigns each type
// its complexity, prerequisites and resource requirements.
type MilestoneType string

const (
	AdvancedReasoning             MilestoneType = "advanced_reasoning"
	MultimodalIntegration         MilestoneType = "multimodal_integration"
	CreativeSynthesis             MilestoneType = "creative_synthesis"
	ScientificDiscovery           MilestoneType = "scientific_discovery"
	AutonomousAgents              MilestoneType = "autonomous_agents"
	ContinualLearning             MilestoneType = "continual_learning"
	RoboticsEmbodiment            MilestoneType = "robotics_embodiment"
	SelfImprovement               MilestoneType = "self_improvement"
	EconomicAutomation            MilestoneType = "economic_automation"
	ArtificialGeneralIntelligence MilestoneType = "artificial_general_intelligence"
	RecursiveSelfImprovement      MilestoneType = "recursive_self_improvement"
	Superintelligence             MilestoneType = "superintelligence"
)

// AllMilestoneTypes lists every type in ladder order.
func AllMilestoneTypes() []MilestoneType {
	return []MilestoneType{
		AdvancedReasoning,
		MultimodalIntegration,
		CreativeSynthesis,
		ScientificDiscovery,
		AutonomousAgents,
		ContinualLearning,
		RoboticsEmbodiment,
		SelfImprovement,
		EconomicAutomation,
		ArtificialGeneralIntelligence,
		RecursiveSelfImprovement,
		Superintelligence,
	}
}

// ValidMilestoneType reports whether s names a known milestone type.
func ValidMilestoneType(s string) bool {
	for _, t := range AllMilestoneTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Status is the progression state of one (organization, milestone) record.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusAvailable Status = "available"
	StatusAchieved  Status = "achieved"
	StatusFailed    Status = "failed"
)

// Attemptable reports whether a trial may run from this status. Failed is a
// transient marker, not a terminal state.
func (s Status) Attemptable() bool {
	return s == StatusAvailable || s == StatusFailed
}

// CapabilityMetrics scores what the system can do. All fields are bounded
// [0,100] except SelfImprovementRate which is a [0,1] rate.
type CapabilityMetrics struct {
	Reasoning           float64 `json:"reasoning"`
	Planning            float64 `json:"planning"`
	SelfImprovementRate float64 `json:"self_improvement_rate"`
	Generalization      float64 `json:"generalization"`
	Creativity          float64 `json:"creativity"`
	LearningEfficiency  float64 `json:"learning_efficiency"`
}

// AlignmentMetrics scores how safely the system behaves. All fields are
// bounded [0,100].
type AlignmentMetrics struct {
	SafetyMeasures     float64 `json:"safety_measures"`
	ValueAlignment     float64 `json:"value_alignment"`
	ControlMechanisms  float64 `json:"control_mechanisms"`
	Interpretability   float64 `json:"interpretability"`
	Robustness         float64 `json:"robustness"`
	EthicalConstraints float64 `json:"ethical_constraints"`
}

// DefaultCapabilityMetrics returns the starting capability profile applied
// when a progression record is created. The average clears the entry-level
// capability floor so the first milestones are attemptable.
func DefaultCapabilityMetrics() CapabilityMetrics {
	return CapabilityMetrics{
		Reasoning:           30,
		Planning:            25,
		SelfImprovementRate: 0.05,
		Generalization:      20,
		Creativity:          25,
		LearningEfficiency:  30,
	}
}

// DefaultAlignmentMetrics returns the moderate safety baseline applied when a
// progression record is created.
func DefaultAlignmentMetrics() AlignmentMetrics {
	return AlignmentMetrics{
		SafetyMeasures:     50,
		ValueAlignment:     50,
		ControlMechanisms:  50,
		Interpretability:   50,
		Robustness:         50,
		EthicalConstraints: 50,
	}
}

// ResearchRequirements is the immutable per-type catalog entry consumed by
// the prerequisite validator.
type ResearchRequirements struct {
	ResearchPointsCost    float64         `json:"research_points_cost"`
	Prerequisites         []MilestoneType `json:"prerequisites,omitempty"`
	MinimumCapability     float64         `json:"minimum_capability"`
	MinimumAlignment      float64         `json:"minimum_alignment"`
	EstimatedMonths       float64         `json:"estimated_months"`
	ComputeBudgetRequired float64         `json:"compute_budget_required"`
}

// ImpactConsequences is the derived snapshot recomputed on every successful
// achievement.
type ImpactConsequences struct {
	IndustryDisruption    float64 `json:"industry_disruption"`
	RegulatoryAttention   float64 `json:"regulatory_attention"`
	PublicPerceptionDelta float64 `json:"public_perception_delta"`
	CompetitiveAdvantage  float64 `json:"competitive_advantage"`
	CatastrophicRisk      float64 `json:"catastrophic_risk"`
	EconomicValue         float64 `json:"economic_value"`
}

// AlignmentStance is the organization's declared research posture.
type AlignmentStance string

const (
	StanceSafetyFirst     AlignmentStance = "safety_first"
	StanceBalanced        AlignmentStance = "balanced"
	StanceCapabilityFirst AlignmentStance = "capability_first"
)

// ChallengeChoice is the decision recorded against an alignment challenge.
type ChallengeChoice string

const (
	ChoiceSafety     ChallengeChoice = "safety"
	ChoiceCapability ChallengeChoice = "capability"
	ChoiceDefer      ChallengeChoice = "defer"
)

// ChallengeOption is one side of an alignment trade-off. Deltas apply to
// every sub-score of the affected metric family; Months shifts the record's
// months-in-progress.
type ChallengeOption struct {
	Label           string  `json:"label"`
	CapabilityDelta float64 `json:"capability_delta"`
	AlignmentDelta  float64 `json:"alignment_delta"`
	Months          float64 `json:"months"`
}

// AlignmentChallenge is a presented safety-versus-capability trade-off.
// Append-only once resolved.
type AlignmentChallenge struct {
	ID               string           `json:"id"`
	OrgID            string           `json:"org_id"`
	MilestoneType    MilestoneType    `json:"milestone_type"`
	Scenario         string           `json:"scenario"`
	SafetyOption     ChallengeOption  `json:"safety_option"`
	CapabilityOption ChallengeOption  `json:"capability_option"`
	Choice           *ChallengeChoice `json:"choice,omitempty" enum:"safety,capability,defer"`
	PresentedAt      string           `json:"presented_at" format:"date-time"`
	ResolvedAt       *string          `json:"resolved_at,omitempty" format:"date-time"`
}

// Resolved reports whether a choice has been recorded.
func (c AlignmentChallenge) Resolved() bool {
	return c.Choice != nil
}

// ProgressionRecord is the mutable unit of concurrency control: one per
// (organization, milestone type) pair, enforced by a unique constraint.
// Version backs the optimistic compare-and-swap write cycle.
type ProgressionRecord struct {
	OrgID                  string              `json:"org_id"`
	MilestoneType          MilestoneType       `json:"milestone_type"`
	Status                 Status              `json:"status" enum:"locked,available,achieved,failed"`
	AttemptCount           int                 `json:"attempt_count"`
	AchievedAt             *string             `json:"achieved_at,omitempty" format:"date-time"`
	FailedAt               *string             `json:"failed_at,omitempty" format:"date-time"`
	Capability             CapabilityMetrics   `json:"capability"`
	Alignment              AlignmentMetrics    `json:"alignment"`
	ResearchPointsInvested float64             `json:"research_points_invested"`
	ComputeBudgetSpent     float64             `json:"compute_budget_spent"`
	MonthsInProgress       float64             `json:"months_in_progress"`
	Stance                 AlignmentStance     `json:"stance" enum:"safety_first,balanced,capability_first"`
	Impact                 *ImpactConsequences `json:"impact,omitempty"`
	Version                int64               `json:"version"`
	CreatedAt              string              `json:"created_at" format:"date-time"`
	UpdatedAt              string              `json:"updated_at" format:"date-time"`
}

// Organization owns a set of progression records.
type Organization struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Stance    AlignmentStance `json:"stance" enum:"safety_first,balanced,capability_first"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only progression log.
type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	OrgID         string `json:"org_id,omitempty"`
	MilestoneType string `json:"milestone_type,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}
