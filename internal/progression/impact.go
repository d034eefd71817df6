package progression

import "ascent/internal/domain"

// economicReference normalizes economic value into a 0..100 component:
// a $1B breakthrough scores 100.
const economicReference = 1_000_000_000

// Impact score weights per component.
const (
	impactWeightCapability = 0.30
	impactWeightAlignment  = 0.20
	impactWeightDisruption = 0.25
	impactWeightEconomic   = 0.25
)

// ImpactResult is the weighted total and its components.
type ImpactResult struct {
	Total               float64 `json:"total"`
	CapabilityComponent float64 `json:"capability_component"`
	AlignmentComponent  float64 `json:"alignment_component"`
	DisruptionComponent float64 `json:"disruption_component"`
	EconomicComponent   float64 `json:"economic_component"`
}

// ImpactScore combines metric state with an existing consequences snapshot
// (which may be zeroed) into a 0..100 score. Pure function.
func ImpactScore(cap domain.CapabilityMetrics, align domain.AlignmentMetrics, cons domain.ImpactConsequences) ImpactResult {
	econ := clamp(cons.EconomicValue/economicReference*100, 0, 100)
	r := ImpactResult{
		CapabilityComponent: AvgCapability(cap) * impactWeightCapability,
		AlignmentComponent:  AvgAlignment(align) * impactWeightAlignment,
		DisruptionComponent: cons.IndustryDisruption * impactWeightDisruption,
		EconomicComponent:   econ * impactWeightEconomic,
	}
	r.Total = clamp(r.CapabilityComponent+r.AlignmentComponent+r.DisruptionComponent+r.EconomicComponent, 0, 100)
	return r
}

// DeriveConsequences builds the post-achievement snapshot from the updated
// metric state. baseEconomicValue and complexity come from the catalog.
func DeriveConsequences(complexity int, baseEconomicValue float64, cap domain.CapabilityMetrics, align domain.AlignmentMetrics) domain.ImpactConsequences {
	avgCap := AvgCapability(cap)
	avgAlign := AvgAlignment(align)
	gap := avgCap - avgAlign
	if gap < 0 {
		gap = 0
	}
	disruption := clamp(float64(complexity)*8+avgCap*0.3, 0, 100)
	return domain.ImpactConsequences{
		IndustryDisruption:    disruption,
		RegulatoryAttention:   clamp(disruption*0.8+(100-avgAlign)*0.3, 0, 100),
		PublicPerceptionDelta: clamp((avgAlign-50)*0.8-float64(complexity)*2, -50, 50),
		CompetitiveAdvantage:  clamp(float64(complexity)*7+avgCap*0.25, 0, 100),
		CatastrophicRisk:      clamp(gap/100*float64(complexity)/10, 0, 1),
		EconomicValue:         baseEconomicValue * (0.5 + avgCap/100),
	}
}
