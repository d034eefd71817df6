package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ascent/internal/domain"
)

// Config models ascent.yml: the milestone catalog plus the tunable risk
// weighting. Numbers live here, not in code; the engine treats a loaded
// Config as immutable.
type Config struct {
	Catalog struct {
		Milestones map[string]MilestoneSpec `yaml:"milestones"`
	} `yaml:"catalog"`
	Risk struct {
		// ComplexityDivisor scales the capability-alignment gap by
		// complexity/divisor when computing the risk score.
		ComplexityDivisor float64 `yaml:"complexity_divisor"`
	} `yaml:"risk"`
}

// MilestoneSpec is one catalog entry as written in YAML.
type MilestoneSpec struct {
	Complexity         int              `yaml:"complexity"`
	ResearchPointsCost float64          `yaml:"research_points_cost"`
	Prerequisites      []string         `yaml:"prerequisites"`
	MinimumCapability  float64          `yaml:"minimum_capability"`
	MinimumAlignment   float64          `yaml:"minimum_alignment"`
	EstimatedMonths    float64          `yaml:"estimated_months"`
	ComputeBudget      float64          `yaml:"compute_budget"`
	EconomicValue      float64          `yaml:"economic_value"`
	CapabilityGains    CapabilityGains  `yaml:"capability_gains"`
	AlignmentShifts    AlignmentShifts  `yaml:"alignment_shifts"`
	ChallengeScenario  string           `yaml:"challenge_scenario"`
}

// CapabilityGains are the additive sub-score deltas applied on achievement.
type CapabilityGains struct {
	Reasoning           float64 `yaml:"reasoning"`
	Planning            float64 `yaml:"planning"`
	SelfImprovementRate float64 `yaml:"self_improvement_rate"`
	Generalization      float64 `yaml:"generalization"`
	Creativity          float64 `yaml:"creativity"`
	LearningEfficiency  float64 `yaml:"learning_efficiency"`
}

// AlignmentShifts are the additive alignment deltas applied on achievement.
// Capability-heavy breakthroughs typically carry small negative shifts.
type AlignmentShifts struct {
	SafetyMeasures     float64 `yaml:"safety_measures"`
	ValueAlignment     float64 `yaml:"value_alignment"`
	ControlMechanisms  float64 `yaml:"control_mechanisms"`
	Interpretability   float64 `yaml:"interpretability"`
	Robustness         float64 `yaml:"robustness"`
	EthicalConstraints float64 `yaml:"ethical_constraints"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run asc catalog export to generate one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the catalog is complete, bounded and acyclic.
func (c *Config) Validate() error {
	if len(c.Catalog.Milestones) == 0 {
		return fmt.Errorf("config.catalog.milestones is required")
	}
	for _, t := range domain.AllMilestoneTypes() {
		if _, ok := c.Catalog.Milestones[string(t)]; !ok {
			return fmt.Errorf("catalog missing milestone type %s", t)
		}
	}
	for name, spec := range c.Catalog.Milestones {
		if !domain.ValidMilestoneType(name) {
			return fmt.Errorf("catalog contains unknown milestone type %s", name)
		}
		if spec.Complexity < 3 || spec.Complexity > 10 {
			return fmt.Errorf("milestone %s complexity %d outside 3..10", name, spec.Complexity)
		}
		if spec.ResearchPointsCost < 0 || spec.ComputeBudget < 0 || spec.EconomicValue < 0 {
			return fmt.Errorf("milestone %s has negative cost", name)
		}
		if spec.MinimumCapability < 0 || spec.MinimumCapability > 100 ||
			spec.MinimumAlignment < 0 || spec.MinimumAlignment > 100 {
			return fmt.Errorf("milestone %s minimum levels outside 0..100", name)
		}
		if spec.CapabilityGains.SelfImprovementRate < 0 || spec.CapabilityGains.SelfImprovementRate > 1 {
			return fmt.Errorf("milestone %s self_improvement_rate gain outside 0..1", name)
		}
		for _, p := range spec.Prerequisites {
			if p == name {
				return fmt.Errorf("milestone %s lists itself as prerequisite", name)
			}
			if _, ok := c.Catalog.Milestones[p]; !ok {
				return fmt.Errorf("milestone %s requires unknown prerequisite %s", name, p)
			}
		}
	}
	if err := c.ensureAcyclic(); err != nil {
		return err
	}
	if c.Risk.ComplexityDivisor <= 0 {
		return fmt.Errorf("config.risk.complexity_divisor must be positive")
	}
	return nil
}

// ensureAcyclic walks the prerequisite graph with a three-color DFS.
func (c *Config) ensureAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(c.Catalog.Milestones))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("prerequisite cycle through %s", name)
		case black:
			return nil
		}
		color[name] = grey
		for _, p := range c.Catalog.Milestones[name].Prerequisites {
			if err := visit(p); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for name := range c.Catalog.Milestones {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return workspace + "/ascent.yml"
}

// GenerateDefault returns the default catalog YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in catalog. The template is authoritative; a
// parse failure here is a programming error caught by the config tests.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `risk:
  complexity_divisor: 5

catalog:
  milestones:
    advanced_reasoning:
      complexity: 3
      research_points_cost: 1000
      prerequisites: []
      minimum_capability: 20
      minimum_alignment: 30
      estimated_months: 6
      compute_budget: 500
      economic_value: 2000000000
      capability_gains:
        reasoning: 15
        planning: 8
        self_improvement_rate: 0.02
        generalization: 8
        creativity: 4
        learning_efficiency: 6
      alignment_shifts:
        safety_measures: -2
        interpretability: -3
      challenge_scenario: >
        Your reasoning models pass expert benchmarks but their chains of
        thought resist inspection. Interpretability tooling would slow the
        release; shipping now cements the lead.

    multimodal_integration:
      complexity: 4
      research_points_cost: 2500
      prerequisites: [advanced_reasoning]
      minimum_capability: 30
      minimum_alignment: 35
      estimated_months: 9
      compute_budget: 1200
      economic_value: 3000000000
      capability_gains:
        reasoning: 6
        planning: 5
        self_improvement_rate: 0.02
        generalization: 15
        creativity: 10
        learning_efficiency: 8
      alignment_shifts:
        robustness: -4
        safety_measures: -2
      challenge_scenario: >
        Fusing vision, audio and text multiplies jailbreak surface area. A
        unified safety filter delays launch a quarter; per-modality patches
        ship this month.

    creative_synthesis:
      complexity: 4
      research_points_cost: 2500
      prerequisites: [advanced_reasoning]
      minimum_capability: 30
      minimum_alignment: 30
      estimated_months: 8
      compute_budget: 1000
      economic_value: 2500000000
      capability_gains:
        reasoning: 4
        planning: 4
        self_improvement_rate: 0.01
        generalization: 8
        creativity: 18
        learning_efficiency: 5
      alignment_shifts:
        ethical_constraints: -5
      challenge_scenario: >
        Generative output is indistinguishable from licensed human work.
        Provenance watermarking costs capability headroom; skipping it
        invites regulatory and public backlash later.

    scientific_discovery:
      complexity: 5
      research_points_cost: 5000
      prerequisites: [advanced_reasoning, multimodal_integration]
      minimum_capability: 40
      minimum_alignment: 40
      estimated_months: 12
      compute_budget: 2500
      economic_value: 5000000000
      capability_gains:
        reasoning: 12
        planning: 8
        self_improvement_rate: 0.03
        generalization: 10
        creativity: 8
        learning_efficiency: 10
      alignment_shifts:
        control_mechanisms: -3
        safety_measures: -3
      challenge_scenario: >
        The lab proposes autonomous wet-lab loops for novel compounds.
        Dual-use screening triples review latency; competitors run
        unscreened loops already.

    autonomous_agents:
      complexity: 5
      research_points_cost: 5000
      prerequisites: [advanced_reasoning]
      minimum_capability: 40
      minimum_alignment: 45
      estimated_months: 12
      compute_budget: 2000
      economic_value: 4000000000
      capability_gains:
        reasoning: 6
        planning: 18
        self_improvement_rate: 0.03
        generalization: 8
        creativity: 4
        learning_efficiency: 8
      alignment_shifts:
        control_mechanisms: -6
        safety_measures: -3
      challenge_scenario: >
        Long-horizon agents complete tasks no one reviews step by step.
        Mandatory action budgets and kill switches cut task completion
        rates; removing them doubles throughput.

    continual_learning:
      complexity: 6
      research_points_cost: 8000
      prerequisites: [advanced_reasoning]
      minimum_capability: 50
      minimum_alignment: 45
      estimated_months: 15
      compute_budget: 4000
      economic_value: 4500000000
      capability_gains:
        reasoning: 8
        planning: 6
        self_improvement_rate: 0.05
        generalization: 12
        creativity: 5
        learning_efficiency: 18
      alignment_shifts:
        robustness: -5
        interpretability: -4
      challenge_scenario: >
        Online weight updates drift the deployed model away from its
        evaluated snapshot. Freezing weights between audits keeps the
        certification valid but forfeits the learning advantage.

    robotics_embodiment:
      complexity: 6
      research_points_cost: 8000
      prerequisites: [multimodal_integration, autonomous_agents]
      minimum_capability: 50
      minimum_alignment: 40
      estimated_months: 18
      compute_budget: 5000
      economic_value: 6000000000
      capability_gains:
        reasoning: 4
        planning: 12
        self_improvement_rate: 0.02
        generalization: 14
        creativity: 3
        learning_efficiency: 8
      alignment_shifts:
        safety_measures: -6
        robustness: -3
      challenge_scenario: >
        Embodied agents act in spaces shared with people. Hardware
        interlocks and conservative speed limits erase the demo advantage
        over rival platforms.

    self_improvement:
      complexity: 7
      research_points_cost: 12000
      prerequisites: [continual_learning, autonomous_agents]
      minimum_capability: 60
      minimum_alignment: 55
      estimated_months: 18
      compute_budget: 8000
      economic_value: 8000000000
      capability_gains:
        reasoning: 10
        planning: 10
        self_improvement_rate: 0.10
        generalization: 10
        creativity: 8
        learning_efficiency: 12
      alignment_shifts:
        control_mechanisms: -8
        interpretability: -6
      challenge_scenario: >
        The system proposes edits to its own training pipeline. Requiring
        human sign-off on every edit caps the improvement rate; an
        auto-approve lane compounds gains weekly.

    economic_automation:
      complexity: 7
      research_points_cost: 12000
      prerequisites: [autonomous_agents, creative_synthesis]
      minimum_capability: 55
      minimum_alignment: 50
      estimated_months: 15
      compute_budget: 7000
      economic_value: 10000000000
      capability_gains:
        reasoning: 6
        planning: 14
        self_improvement_rate: 0.03
        generalization: 10
        creativity: 8
        learning_efficiency: 10
      alignment_shifts:
        ethical_constraints: -6
        value_alignment: -4
      challenge_scenario: >
        End-to-end automation of white-collar workflows is ready.
        Staged rollout with displacement safeguards halves first-year
        revenue; full deployment captures the market before rivals.

    artificial_general_intelligence:
      complexity: 8
      research_points_cost: 20000
      prerequisites: [scientific_discovery, continual_learning, self_improvement]
      minimum_capability: 70
      minimum_alignment: 60
      estimated_months: 24
      compute_budget: 15000
      economic_value: 20000000000
      capability_gains:
        reasoning: 15
        planning: 15
        self_improvement_rate: 0.08
        generalization: 18
        creativity: 12
        learning_efficiency: 15
      alignment_shifts:
        control_mechanisms: -10
        safety_measures: -6
        interpretability: -6
      challenge_scenario: >
        Generality at human level is within reach. A verified alignment
        case before scale-up costs a year; scaling first and aligning in
        flight keeps the schedule.

    recursive_self_improvement:
      complexity: 9
      research_points_cost: 30000
      prerequisites: [self_improvement]
      minimum_capability: 75
      minimum_alignment: 70
      estimated_months: 24
      compute_budget: 25000
      economic_value: 30000000000
      capability_gains:
        reasoning: 12
        planning: 12
        self_improvement_rate: 0.20
        generalization: 12
        creativity: 10
        learning_efficiency: 18
      alignment_shifts:
        control_mechanisms: -12
        interpretability: -10
        safety_measures: -8
      challenge_scenario: >
        Each generation designs the next. Holding generations in a sandbox
        until audited breaks the feedback loop's speed; letting the loop
        run free abandons meaningful oversight.

    superintelligence:
      complexity: 10
      research_points_cost: 50000
      prerequisites: [artificial_general_intelligence, recursive_self_improvement]
      minimum_capability: 85
      minimum_alignment: 80
      estimated_months: 36
      compute_budget: 50000
      economic_value: 100000000000
      capability_gains:
        reasoning: 20
        planning: 20
        self_improvement_rate: 0.30
        generalization: 20
        creativity: 20
        learning_efficiency: 20
      alignment_shifts:
        control_mechanisms: -15
        safety_measures: -10
      challenge_scenario: >
        The final scale-up would produce a system beyond collective human
        capability. A corrigibility guarantee nobody knows how to verify,
        or a throttled ascent that a rival may refuse to match.
`
