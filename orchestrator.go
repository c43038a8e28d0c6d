package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// TurnInput is everything the orchestrator needs to run one turn. History
// is context only and is never mutated.
type TurnInput struct {
	TurnID  string
	Query   string
	Mode    string
	Roles   []RoleBinding
	Params  TurnParams
	History []GatewayMessage
}

// Orchestrator drives a mode's topology against a concrete role
// assignment: it fans calls out per stage, absorbs per-model failures,
// aggregates, and emits ordered stage events.
type Orchestrator struct {
	gateway Gateway
}

func NewOrchestrator(gateway Gateway) *Orchestrator {
	return &Orchestrator{gateway: gateway}
}

// runState is the per-run scratch space. It is owned exclusively by one
// Run call and never shared across concurrent turns.
type runState struct {
	input   TurnInput
	collect []ModelOutput
	reviews []ModelOutput
	ranking []RankEntry

	criteria     []string
	criteriaText string
	options      []string
	optionsText  string
	board        *DecisionBoard
	evalText     string
	riskText     string

	result *ModelOutput
}

// Run executes one turn. It returns an error only when there is nothing
// to persist: an invalid configuration (rejected before any model call)
// or caller abandonment. A stage that produces zero usable outputs ends
// the run with a turn whose Error is set and whose completed stages are
// retained; the caller decides what to do with it.
//
// Events, when a channel is supplied, arrive in stage order with
// per-model completion events inside all-concurrent stages, terminated by
// turn-completed or turn-failed. Run never closes the channel.
func (o *Orchestrator) Run(ctx context.Context, input TurnInput, events chan<- StageEvent) (*Turn, error) {
	topo, err := TopologyFor(input.Mode)
	if err != nil {
		return nil, err
	}
	if err := topo.Validate(input.Roles, input.Params); err != nil {
		return nil, err
	}

	turn := &Turn{
		ID:        input.TurnID,
		Query:     input.Query,
		Mode:      input.Mode,
		Roles:     input.Roles,
		Params:    input.Params,
		CreatedAt: time.Now().UTC(),
	}
	em := &emitter{turnID: input.TurnID, ch: events}
	st := &runState{input: input}

	for _, stage := range topo.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := o.runStage(ctx, topo.Mode, stage, st, em)
		turn.Stages = append(turn.Stages, results...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// Abandoned mid-flight: discard, persist nothing.
				return nil, ctxErr
			}
			turn.Error = turnErrorFor(stage, err)
			em.emit(StageEvent{
				Type:      EventTurnFailed,
				Stage:     turn.Error.Stage,
				StageKind: stage.Kind,
				Turn:      turn,
				Message:   turn.Error.Message,
			})
			return turn, nil
		}
	}

	turn.Result = st.result
	em.emit(StageEvent{Type: EventTurnCompleted, Turn: turn})
	return turn, nil
}

func turnErrorFor(stage StageSpec, err error) *TurnError {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return &TurnError{Stage: sf.Stage, Message: err.Error()}
	}
	return &TurnError{Stage: stage.Name, Message: err.Error()}
}

// runStage dispatches one stage descriptor. The relay stage expands into
// one StageResult per executed step; every other stage yields exactly one.
func (o *Orchestrator) runStage(ctx context.Context, mode string, stage StageSpec, st *runState, em *emitter) ([]StageResult, error) {
	if stage.Kind == KindSequential {
		return o.runRelay(ctx, stage, st, em)
	}

	em.stageStarted(stage)

	var result *StageResult
	var err error
	switch {
	case mode == ModeCouncil && stage.Name == "collect":
		result, err = o.runCollect(ctx, stage, st, st.input.Query, em)
	case mode == ModeCouncil && stage.Name == "peer-review":
		result, err = o.runPeerReview(ctx, stage, st, em)
	case mode == ModeCouncil && stage.Name == "synthesize":
		result, err = o.runCouncilSynthesis(ctx, stage, st, em)
	case mode == ModeDecision && stage.Name == "criteria-design":
		result, err = o.runCriteriaDesign(ctx, stage, st, em)
	case mode == ModeDecision && stage.Name == "option-generation":
		result, err = o.runOptionGeneration(ctx, stage, st, em)
	case mode == ModeDecision && stage.Name == "evaluation":
		result, err = o.runEvaluation(ctx, stage, st, em)
	case mode == ModeDecision && stage.Name == "risk-assessment":
		result, err = o.runRiskAssessment(ctx, stage, st, em)
	case mode == ModeDecision && stage.Name == "decision-synthesis":
		result, err = o.runDecisionSynthesis(ctx, stage, st, em)
	case mode == ModeEnsemble && stage.Name == "collect":
		result, err = o.runCollect(ctx, stage, st, BuildEnsemblePrompt(st.input.Query), em)
	case mode == ModeEnsemble && stage.Name == "combine":
		result, err = o.runEnsembleCombine(stage, st)
	default:
		return nil, fmt.Errorf("no executor for stage %s of mode %s", stage.Name, mode)
	}

	var results []StageResult
	if result != nil {
		results = []StageResult{*result}
	}
	if err != nil {
		return results, err
	}
	em.stageCompleted(result)
	return results, nil
}

// fanOut issues one call per model concurrently and waits for every call
// to settle. A failed call becomes a failure-marked output and never
// cancels its siblings. The optional post hook can downgrade an output
// whose content fails structural parsing, before its event is emitted.
func (o *Orchestrator) fanOut(ctx context.Context, stage StageSpec, models []string, prompt string, history []GatewayMessage, em *emitter, post func(ModelOutput) ModelOutput) []ModelOutput {
	outputs := make([]ModelOutput, len(models))
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range models {
		i, model := i, model
		g.Go(func() error {
			content, err := o.gateway.Call(gctx, model, stage.Role, prompt, history)
			out := ModelOutput{Model: model, Role: stage.Role, Timestamp: time.Now().UTC()}
			if err != nil {
				log.Printf("Error querying model %s: %v", model, err)
				out.Failed = true
				out.FailureKind = failureKindOf(err)
			} else {
				out.Content = content
			}
			if post != nil {
				out = post(out)
			}
			outputs[i] = out
			em.modelSettled(stage, out)
			return nil
		})
	}
	g.Wait()
	return outputs
}

// singleShot issues exactly one call. A failure is a stage failure: a
// single-shot stage has no siblings to fall back on.
func (o *Orchestrator) singleShot(ctx context.Context, mode string, stage StageSpec, model, prompt string, history []GatewayMessage, em *emitter) (*StageResult, error) {
	content, err := o.gateway.Call(ctx, model, stage.Role, prompt, history)
	out := ModelOutput{Model: model, Role: stage.Role, Timestamp: time.Now().UTC()}
	if err != nil {
		log.Printf("Error querying model %s: %v", model, err)
		out.Failed = true
		out.FailureKind = failureKindOf(err)
	} else {
		out.Content = content
	}
	em.modelSettled(stage, out)

	result := &StageResult{Name: stage.Name, Kind: stage.Kind, Outputs: []ModelOutput{out}}
	if out.Failed {
		return result, &StageFailure{Mode: mode, Stage: stage.Name}
	}
	return result, nil
}

func (o *Orchestrator) runCollect(ctx context.Context, stage StageSpec, st *runState, prompt string, em *emitter) (*StageResult, error) {
	members := ModelsForRole(st.input.Roles, stage.Role)
	outputs := o.fanOut(ctx, stage, members, prompt, st.input.History, em, nil)
	st.collect = outputs

	result := &StageResult{Name: stage.Name, Kind: stage.Kind, Outputs: outputs}
	if len(successfulOutputs(outputs)) == 0 {
		return result, &StageFailure{Mode: st.input.Mode, Stage: stage.Name}
	}
	return result, nil
}

func (o *Orchestrator) runPeerReview(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	responses := successfulOutputs(st.collect)
	anon := NewAnonymizationMap(modelsOf(responses))

	// Reviewers see every response, their own included, under shuffled
	// labels only.
	labeled := make([]LabeledResponse, 0, anon.Size())
	byModel := make(map[string]string, len(responses))
	for _, out := range responses {
		byModel[out.Model] = out.Content
	}
	for _, label := range anon.Labels() {
		model, _ := anon.Model(label)
		labeled = append(labeled, LabeledResponse{Label: label, Content: byModel[model]})
	}
	prompt := BuildReviewPrompt(st.input.Query, labeled)

	// A ranking that cannot be decoded back to identities counts as a
	// per-model failure, not a hard stop.
	post := func(out ModelOutput) ModelOutput {
		if out.Failed {
			return out
		}
		if len(anon.Decode(ParseRankingFromText(out.Content))) == 0 {
			out.Content = ""
			out.Failed = true
			out.FailureKind = FailureMalformed
		}
		return out
	}

	outputs := o.fanOut(ctx, stage, modelsOf(responses), prompt, nil, em, post)

	var orderings [][]string
	for _, out := range outputs {
		if !out.Failed {
			orderings = append(orderings, anon.Decode(ParseRankingFromText(out.Content)))
		}
	}
	result := &StageResult{Name: stage.Name, Kind: stage.Kind, Outputs: outputs}
	if len(orderings) == 0 {
		return result, &StageFailure{Mode: ModeCouncil, Stage: stage.Name}
	}

	st.ranking = BordaRanking(orderings, anon.Size())
	st.reviews = outputs
	result.Ranking = st.ranking
	// The bijection dies with rank resolution; nothing downstream may see it.
	return result, nil
}

func (o *Orchestrator) runCouncilSynthesis(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	chairman := ModelsForRole(st.input.Roles, RoleChairman)[0]
	prompt := BuildSynthesisPrompt(st.input.Query, st.collect, st.reviews, st.ranking)
	result, err := o.singleShot(ctx, ModeCouncil, stage, chairman, prompt, nil, em)
	if err != nil {
		return result, err
	}
	st.result = &result.Outputs[0]
	return result, nil
}

func (o *Orchestrator) runCriteriaDesign(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	designer := ModelsForRole(st.input.Roles, RoleDesigner)[0]
	result, err := o.singleShot(ctx, ModeDecision, stage, designer, BuildCriteriaPrompt(st.input.Query), st.input.History, em)
	if err != nil {
		return result, err
	}

	criteria := ParseNumberedList(result.Outputs[0].Content, "CRITERIA:")
	if len(criteria) == 0 {
		result.Outputs[0] = failedOutput(result.Outputs[0], FailureMalformed)
		return result, &StageFailure{Mode: ModeDecision, Stage: stage.Name}
	}
	st.criteria = criteria
	st.criteriaText = result.Outputs[0].Content
	return result, nil
}

func (o *Orchestrator) runOptionGeneration(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	generator := ModelsForRole(st.input.Roles, RoleGenerator)[0]
	result, err := o.singleShot(ctx, ModeDecision, stage, generator, BuildOptionsPrompt(st.input.Query, st.criteriaText), nil, em)
	if err != nil {
		return result, err
	}

	options := ParseNumberedList(result.Outputs[0].Content, "OPTIONS:")
	if len(options) == 0 {
		result.Outputs[0] = failedOutput(result.Outputs[0], FailureMalformed)
		return result, &StageFailure{Mode: ModeDecision, Stage: stage.Name}
	}
	st.options = options
	st.optionsText = result.Outputs[0].Content
	return result, nil
}

func (o *Orchestrator) runEvaluation(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	evaluators := ModelsForRole(st.input.Roles, RoleEvaluator)
	prompt := BuildEvaluationPrompt(st.input.Query, st.criteria, st.options)

	post := func(out ModelOutput) ModelOutput {
		if out.Failed {
			return out
		}
		if _, err := ParseScores(out.Content, len(st.options), len(st.criteria)); err != nil {
			return failedOutput(out, FailureMalformed)
		}
		return out
	}

	outputs := o.fanOut(ctx, stage, evaluators, prompt, nil, em, post)

	var evaluations [][]ScoreTriple
	var commentary strings.Builder
	for _, out := range outputs {
		if out.Failed {
			continue
		}
		triples, _ := ParseScores(out.Content, len(st.options), len(st.criteria))
		evaluations = append(evaluations, triples)
		commentary.WriteString(fmt.Sprintf("[%s]\n%s\n\n", out.Model, out.Content))
	}
	result := &StageResult{Name: stage.Name, Kind: stage.Kind, Outputs: outputs}
	if len(evaluations) == 0 {
		return result, &StageFailure{Mode: ModeDecision, Stage: stage.Name}
	}

	st.board = ScoreOptions(st.criteria, st.options, evaluations)
	st.evalText = commentary.String()
	result.Board = st.board
	return result, nil
}

func (o *Orchestrator) runRiskAssessment(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	assessor := ModelsForRole(st.input.Roles, RoleRiskAssessor)[0]
	prompt := BuildRiskPrompt(st.input.Query, st.options, st.board, st.evalText)
	result, err := o.singleShot(ctx, ModeDecision, stage, assessor, prompt, nil, em)
	if err != nil {
		return result, err
	}
	st.riskText = result.Outputs[0].Content
	return result, nil
}

func (o *Orchestrator) runDecisionSynthesis(ctx context.Context, stage StageSpec, st *runState, em *emitter) (*StageResult, error) {
	synthesizer := ModelsForRole(st.input.Roles, RoleSynthesizer)[0]
	prompt := BuildDecisionSynthesisPrompt(st.input.Query, st.criteriaText, st.optionsText, st.board, st.riskText)
	result, err := o.singleShot(ctx, ModeDecision, stage, synthesizer, prompt, nil, em)
	if err != nil {
		return result, err
	}
	st.result = &result.Outputs[0]
	return result, nil
}

// runEnsembleCombine is pure aggregation: no model call is made.
func (o *Orchestrator) runEnsembleCombine(stage StageSpec, st *runState) (*StageResult, error) {
	winner, attribution := CombineEnsemble(st.collect, st.input.Params.Weights)
	if winner == nil {
		return nil, &StageFailure{Mode: ModeEnsemble, Stage: stage.Name}
	}
	st.result = winner
	return &StageResult{
		Name:        stage.Name,
		Kind:        stage.Kind,
		Outputs:     []ModelOutput{*winner},
		Attribution: attribution,
	}, nil
}

// runRelay executes the serial chain: each step sees only the previous
// step's output, and the chain ends at convergence or at the iteration
// cap, whichever comes first. A failed step is recorded and the chain
// carries the previous output forward; only a chain with no successful
// step at all is a stage failure.
func (o *Orchestrator) runRelay(ctx context.Context, stage StageSpec, st *runState, em *emitter) ([]StageResult, error) {
	order, err := SequentialOrder(st.input.Roles)
	if err != nil {
		return nil, err
	}

	iterationCap := st.input.Params.IterationCap
	if iterationCap <= 0 {
		iterationCap = DefaultIterationCap
	}
	threshold := DefaultConvergenceThreshold
	if st.input.Params.ConvergenceThreshold != nil {
		threshold = *st.input.Params.ConvergenceThreshold
	}

	steps := len(order)
	if iterationCap < steps {
		steps = iterationCap
	}

	var results []StageResult
	var lastSuccess *ModelOutput
	previous := ""

	for k := 1; k <= steps; k++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		stepStage := StageSpec{
			Name:        fmt.Sprintf("step-%d", k),
			Kind:        KindSequential,
			Parallelism: SerialChain,
			Role:        fmt.Sprintf("step-%d", k),
		}
		em.stageStarted(stepStage)

		var history []GatewayMessage
		if k == 1 {
			history = st.input.History
		}
		content, err := o.gateway.Call(ctx, order[k-1], stepStage.Role, BuildStepPrompt(st.input.Query, previous, k), history)

		out := ModelOutput{Model: order[k-1], Role: stepStage.Role, Timestamp: time.Now().UTC()}
		result := StageResult{Name: stepStage.Name, Kind: KindSequential}
		if err != nil {
			log.Printf("Error querying model %s: %v", order[k-1], err)
			out.Failed = true
			out.FailureKind = failureKindOf(err)
			em.modelSettled(stepStage, out)
			result.Outputs = []ModelOutput{out}
			results = append(results, result)
			em.stageCompleted(&result)
			continue
		}

		out.Content = content
		em.modelSettled(stepStage, out)
		result.Outputs = []ModelOutput{out}

		converged := false
		if lastSuccess != nil {
			similarity := TokenOverlap(lastSuccess.Content, content)
			converged = similarity >= threshold
			result.Convergence = &ConvergenceInfo{
				Step:       k,
				Similarity: similarity,
				Threshold:  threshold,
				Converged:  converged,
			}
		}

		stepOut := out
		lastSuccess = &stepOut
		previous = content
		results = append(results, result)
		em.stageCompleted(&result)

		if converged {
			break
		}
	}

	if lastSuccess == nil {
		return results, &StageFailure{Mode: ModeSequential, Stage: stage.Name}
	}
	st.result = lastSuccess
	return results, nil
}

func successfulOutputs(outputs []ModelOutput) []ModelOutput {
	var successes []ModelOutput
	for _, out := range outputs {
		if !out.Failed {
			successes = append(successes, out)
		}
	}
	return successes
}

func modelsOf(outputs []ModelOutput) []string {
	models := make([]string, 0, len(outputs))
	for _, out := range outputs {
		models = append(models, out.Model)
	}
	return models
}

func failedOutput(out ModelOutput, kind FailureKind) ModelOutput {
	out.Content = ""
	out.Failed = true
	out.FailureKind = kind
	return out
}
