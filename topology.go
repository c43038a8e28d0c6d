package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Collaboration modes.
const (
	ModeCouncil    = "council"
	ModeDecision   = "decision"
	ModeSequential = "sequential"
	ModeEnsemble   = "ensemble"
)

// StageKind tags a StageResult with the aggregation semantics it carries.
type StageKind string

const (
	KindCollection    StageKind = "collection"
	KindPeerReview    StageKind = "peer-review"
	KindDecisionEval  StageKind = "decision-evaluation"
	KindSequential    StageKind = "sequential-step"
	KindEnsembleScore StageKind = "ensemble-score"
	KindSynthesis     StageKind = "synthesis"
)

// Parallelism is a stage's fan-out rule.
type Parallelism int

const (
	AllConcurrent Parallelism = iota
	SerialChain
	SingleShot
)

// Role slot names. Sequential mode uses "step-1".."step-N" instead.
const (
	RoleMember       = "member"
	RoleChairman     = "chairman"
	RoleDesigner     = "designer"
	RoleGenerator    = "generator"
	RoleEvaluator    = "evaluator"
	RoleRiskAssessor = "risk-assessor"
	RoleSynthesizer  = "synthesizer"
)

// StageSpec declares one stage of a mode's topology: what kind of result
// it produces, how its calls fan out, which role slot fills it, and
// whether participants see each other anonymized. Each stage consumes the
// previous stage's output (the first consumes the query).
type StageSpec struct {
	Name        string      `json:"name"`
	Kind        StageKind   `json:"kind"`
	Parallelism Parallelism `json:"-"`
	Role        string      `json:"role"`
	MinModels   int         `json:"-"`
	Anonymized  bool        `json:"anonymized,omitempty"`
}

// Topology is the ordered stage list for one mode. The set of topologies
// is closed: one per mode, consumed by the generic orchestrator loop.
type Topology struct {
	Mode   string      `json:"mode"`
	Stages []StageSpec `json:"stages"`
}

var topologies = map[string]*Topology{
	ModeCouncil: {
		Mode: ModeCouncil,
		Stages: []StageSpec{
			{Name: "collect", Kind: KindCollection, Parallelism: AllConcurrent, Role: RoleMember, MinModels: 2},
			{Name: "peer-review", Kind: KindPeerReview, Parallelism: AllConcurrent, Role: RoleMember, MinModels: 2, Anonymized: true},
			{Name: "synthesize", Kind: KindSynthesis, Parallelism: SingleShot, Role: RoleChairman, MinModels: 1},
		},
	},
	ModeDecision: {
		Mode: ModeDecision,
		Stages: []StageSpec{
			{Name: "criteria-design", Kind: KindCollection, Parallelism: SingleShot, Role: RoleDesigner, MinModels: 1},
			{Name: "option-generation", Kind: KindCollection, Parallelism: SingleShot, Role: RoleGenerator, MinModels: 1},
			{Name: "evaluation", Kind: KindDecisionEval, Parallelism: AllConcurrent, Role: RoleEvaluator, MinModels: 1},
			{Name: "risk-assessment", Kind: KindCollection, Parallelism: SingleShot, Role: RoleRiskAssessor, MinModels: 1},
			{Name: "decision-synthesis", Kind: KindSynthesis, Parallelism: SingleShot, Role: RoleSynthesizer, MinModels: 1},
		},
	},
	ModeSequential: {
		Mode: ModeSequential,
		Stages: []StageSpec{
			{Name: "relay", Kind: KindSequential, Parallelism: SerialChain, Role: "step", MinModels: 1},
		},
	},
	ModeEnsemble: {
		Mode: ModeEnsemble,
		Stages: []StageSpec{
			{Name: "collect", Kind: KindCollection, Parallelism: AllConcurrent, Role: RoleMember, MinModels: 2},
			{Name: "combine", Kind: KindEnsembleScore, Parallelism: SingleShot, Role: "", MinModels: 0},
		},
	},
}

// TopologyFor resolves the topology for a mode.
func TopologyFor(mode string) (*Topology, error) {
	topo, ok := topologies[mode]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	return topo, nil
}

// ModesList returns the supported mode names.
func ModesList() []string {
	return []string{ModeCouncil, ModeDecision, ModeSequential, ModeEnsemble}
}

// ModelsForRole returns the models bound to a role, in binding order.
func ModelsForRole(bindings []RoleBinding, role string) []string {
	var models []string
	for _, b := range bindings {
		if b.Role == role {
			models = append(models, b.Model)
		}
	}
	return models
}

// SequentialOrder extracts the relay order from "step-k" role bindings.
// Steps must be contiguous from step-1; binding order does not matter.
func SequentialOrder(bindings []RoleBinding) ([]string, error) {
	byStep := make(map[int]string, len(bindings))
	for _, b := range bindings {
		if !strings.HasPrefix(b.Role, "step-") {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role %q is not a step role", b.Role)}
		}
		n, err := strconv.Atoi(strings.TrimPrefix(b.Role, "step-"))
		if err != nil || n < 1 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role %q is not a step role", b.Role)}
		}
		if _, dup := byStep[n]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role %q assigned twice", b.Role)}
		}
		byStep[n] = b.Model
	}
	order := make([]string, 0, len(byStep))
	for k := 1; k <= len(byStep); k++ {
		model, ok := byStep[k]
		if !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("step roles are not contiguous: missing step-%d", k)}
		}
		order = append(order, model)
	}
	if len(order) == 0 {
		return nil, &ConfigurationError{Reason: "sequential mode requires at least step-1"}
	}
	return order, nil
}

// Validate rejects a turn before any model call when a required role slot
// is unfilled, a model holds more than one role, or the mode parameters
// are out of range.
func (t *Topology) Validate(bindings []RoleBinding, params TurnParams) error {
	if len(bindings) == 0 {
		return &ConfigurationError{Reason: "no role assignments"}
	}

	seenModel := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		if strings.TrimSpace(b.Model) == "" {
			return &ConfigurationError{Reason: "role binding with empty model"}
		}
		if strings.TrimSpace(b.Role) == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("model %s has an empty role", b.Model)}
		}
		// A model holding multiple roles in one turn is disallowed.
		if seenModel[b.Model] {
			return &ConfigurationError{Reason: fmt.Sprintf("model %s assigned more than one role", b.Model)}
		}
		seenModel[b.Model] = true
	}

	switch t.Mode {
	case ModeSequential:
		if _, err := SequentialOrder(bindings); err != nil {
			return err
		}
		// Zero means "use the configured default".
		if params.IterationCap < 0 {
			return &ConfigurationError{Reason: "iteration_cap must be >= 1"}
		}
		if params.ConvergenceThreshold != nil {
			v := *params.ConvergenceThreshold
			if v < 0 || v > 1 {
				return &ConfigurationError{Reason: "convergence_threshold must be in [0,1]"}
			}
		}
	default:
		validRoles := make(map[string]bool)
		for _, stage := range t.Stages {
			if stage.Role == "" {
				continue
			}
			validRoles[stage.Role] = true
			models := ModelsForRole(bindings, stage.Role)
			if len(models) < stage.MinModels {
				return &ConfigurationError{Reason: fmt.Sprintf(
					"mode %s stage %s requires at least %d model(s) with role %s, got %d",
					t.Mode, stage.Name, stage.MinModels, stage.Role, len(models))}
			}
			if stage.Parallelism == SingleShot && len(models) > 1 {
				return &ConfigurationError{Reason: fmt.Sprintf(
					"role %s admits exactly one model, got %d", stage.Role, len(models))}
			}
		}
		for _, b := range bindings {
			if !validRoles[b.Role] {
				return &ConfigurationError{Reason: fmt.Sprintf(
					"role %q is not valid for mode %s", b.Role, t.Mode)}
			}
		}
	}

	if t.Mode == ModeEnsemble && params.Weights != nil {
		bound := make(map[string]bool, len(bindings))
		for _, b := range bindings {
			bound[b.Model] = true
		}
		for model, w := range params.Weights {
			if w < 0 {
				return &ConfigurationError{Reason: fmt.Sprintf("weight for %s must be >= 0", model)}
			}
			if !bound[model] {
				return &ConfigurationError{Reason: fmt.Sprintf("weight given for unbound model %s", model)}
			}
		}
	}

	return nil
}
