package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// councilResponder scripts a full healthy council run: members answer,
// reviewers rank A-first, the chairman synthesizes.
func councilResponder(t *testing.T) func(model, role, prompt string) (string, error) {
	return func(model, role, prompt string) (string, error) {
		switch {
		case role == RoleChairman:
			return "The council's final answer.", nil
		case strings.Contains(prompt, "FINAL RANKING:"):
			return "All fine.\n\nFINAL RANKING:\n1. Response A\n2. Response B\n3. Response C", nil
		default:
			return fmt.Sprintf("Answer from %s.", model), nil
		}
	}
}

// TestRunCouncil tests the full three-stage council flow
func TestRunCouncil(t *testing.T) {
	gw := &fakeGateway{respond: councilResponder(t)}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-1",
		Query:  "What is Go?",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(turn.Stages) != 3 {
		t.Fatalf("Expected 3 stages, got %d", len(turn.Stages))
	}
	for i, want := range []string{"collect", "peer-review", "synthesize"} {
		if turn.Stages[i].Name != want {
			t.Errorf("Stage %d = %q, want %q", i, turn.Stages[i].Name, want)
		}
	}

	// Collect: all three members answered.
	if len(turn.Stages[0].Outputs) != 3 {
		t.Errorf("Collect outputs = %d, want 3", len(turn.Stages[0].Outputs))
	}

	// Peer review carries the aggregate ranking: 3 reviewers each
	// awarding 2+1+0 points over 3 participants.
	ranking := turn.Stages[1].Ranking
	if len(ranking) != 3 {
		t.Fatalf("Ranking entries = %d, want 3", len(ranking))
	}
	total := 0
	for _, entry := range ranking {
		total += entry.Points
	}
	if total != 9 {
		t.Errorf("Total Borda points = %d, want 9", total)
	}
	if ranking[0].Points != 6 {
		t.Errorf("Winner points = %d, want 6 (unanimous first place)", ranking[0].Points)
	}

	// The chairman's answer is the turn result.
	if turn.Result == nil || turn.Result.Model != "test/chair" {
		t.Fatalf("Result = %+v, want output from test/chair", turn.Result)
	}
	if turn.Result.Content != "The council's final answer." {
		t.Errorf("Result content = %q", turn.Result.Content)
	}
	if turn.Error != nil {
		t.Errorf("Turn error = %v, want nil", turn.Error)
	}
}

// TestRunCouncilMemberFailure tests that one failed member degrades, not
// aborts, the run
func TestRunCouncilMemberFailure(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		if model == "test/gamma" && !strings.Contains(prompt, "FINAL RANKING:") {
			return "", &CallError{Model: model, Kind: FailureTimeout, Err: context.DeadlineExceeded}
		}
		switch {
		case role == RoleChairman:
			return "Synthesized without gamma.", nil
		case strings.Contains(prompt, "FINAL RANKING:"):
			return "FINAL RANKING:\n1. Response A\n2. Response B", nil
		default:
			return "An answer.", nil
		}
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-2",
		Query:  "ok?",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The failed member stays on the collect stage, marked.
	var failed *ModelOutput
	for i := range turn.Stages[0].Outputs {
		if turn.Stages[0].Outputs[i].Failed {
			failed = &turn.Stages[0].Outputs[i]
		}
	}
	if failed == nil {
		t.Fatal("Expected a failure-marked output in collect stage")
	}
	if failed.Model != "test/gamma" || failed.FailureKind != FailureTimeout {
		t.Errorf("Failed output = %+v", failed)
	}

	// Only the two successful members review; ranking covers two.
	if len(turn.Stages[1].Outputs) != 2 {
		t.Errorf("Review outputs = %d, want 2", len(turn.Stages[1].Outputs))
	}
	if len(turn.Stages[1].Ranking) != 2 {
		t.Errorf("Ranking entries = %d, want 2", len(turn.Stages[1].Ranking))
	}
	for _, entry := range turn.Stages[1].Ranking {
		if entry.Model == "test/gamma" {
			t.Error("Failed member must not appear in the ranking")
		}
	}

	if turn.Result == nil {
		t.Fatal("Expected a result despite the member failure")
	}
}

// TestRunCouncilAllMembersFail tests the zero-usable-outputs stage failure
func TestRunCouncilAllMembersFail(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		return "", &CallError{Model: model, Kind: FailureRejected, Err: errors.New("429")}
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-3",
		Query:  "anyone?",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, nil)
	if err != nil {
		t.Fatalf("Run should absorb the stage failure, got error: %v", err)
	}

	if turn.Error == nil {
		t.Fatal("Expected turn error")
	}
	if turn.Error.Stage != "collect" {
		t.Errorf("Error stage = %q, want collect", turn.Error.Stage)
	}
	if turn.Result != nil {
		t.Errorf("Result = %+v, want nil", turn.Result)
	}
	// The completed (failed) stage is retained on the turn.
	if len(turn.Stages) != 1 {
		t.Errorf("Stages = %d, want 1", len(turn.Stages))
	}
}

// TestRunMalformedRankingDowngraded tests that an undecodable ranking
// becomes a per-model failure
func TestRunMalformedRankingDowngraded(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		switch {
		case role == RoleChairman:
			return "final", nil
		case strings.Contains(prompt, "FINAL RANKING:"):
			if model == "test/beta" {
				return "I refuse to rank anything.", nil
			}
			return "FINAL RANKING:\n1. Response B\n2. Response A\n3. Response C", nil
		default:
			return "answer", nil
		}
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-4",
		Query:  "rank me",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var betaReview *ModelOutput
	for i := range turn.Stages[1].Outputs {
		if turn.Stages[1].Outputs[i].Model == "test/beta" {
			betaReview = &turn.Stages[1].Outputs[i]
		}
	}
	if betaReview == nil {
		t.Fatal("Missing beta's review output")
	}
	if !betaReview.Failed || betaReview.FailureKind != FailureMalformed {
		t.Errorf("Beta review = %+v, want malformed-response failure", betaReview)
	}

	// Two usable orderings remain; the aggregate still exists.
	if len(turn.Stages[1].Ranking) != 3 {
		t.Errorf("Ranking entries = %d, want 3", len(turn.Stages[1].Ranking))
	}
}

// TestRunConfigurationErrors tests pre-flight rejection: nothing runs,
// nothing is returned to persist
func TestRunConfigurationErrors(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		t.Error("No model call should be made")
		return "", nil
	}}
	orch := NewOrchestrator(gw)

	tests := []struct {
		name  string
		input TurnInput
	}{
		{
			name:  "unknown mode",
			input: TurnInput{TurnID: "t", Query: "q", Mode: "parliament", Roles: councilRoles()},
		},
		{
			name: "duplicate model",
			input: TurnInput{TurnID: "t", Query: "q", Mode: ModeCouncil, Roles: []RoleBinding{
				{Model: "m1", Role: RoleMember},
				{Model: "m1", Role: RoleMember},
				{Model: "m2", Role: RoleChairman},
			}},
		},
		{
			name:  "no roles",
			input: TurnInput{TurnID: "t", Query: "q", Mode: ModeCouncil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn, err := orch.Run(context.Background(), tt.input, nil)
			if turn != nil {
				t.Errorf("Turn = %+v, want nil", turn)
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("Expected ConfigurationError, got %v", err)
			}
		})
	}
}

// TestRunSequentialConvergence tests early exit once steps agree
func TestRunSequentialConvergence(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		// Step 2 repeats step 1 verbatim: overlap 1.0 >= threshold.
		return "the settled answer", nil
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-5",
		Query:  "refine this",
		Mode:   ModeSequential,
		Roles:  sequentialRoles(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Converged at step 2: two stage results, step-3 never ran.
	if len(turn.Stages) != 2 {
		t.Fatalf("Stages = %d, want 2", len(turn.Stages))
	}
	if turn.Stages[0].Name != "step-1" || turn.Stages[1].Name != "step-2" {
		t.Errorf("Stage names = %q, %q", turn.Stages[0].Name, turn.Stages[1].Name)
	}

	conv := turn.Stages[1].Convergence
	if conv == nil {
		t.Fatal("Missing convergence info on step-2")
	}
	if !conv.Converged || conv.Similarity != 1 || conv.Step != 2 {
		t.Errorf("Convergence = %+v", conv)
	}
	if conv.Threshold != DefaultConvergenceThreshold {
		t.Errorf("Threshold = %v, want default %v", conv.Threshold, DefaultConvergenceThreshold)
	}

	if turn.Result == nil || turn.Result.Model != "test/beta" {
		t.Errorf("Result = %+v, want step-2's output", turn.Result)
	}
	if len(gw.CallsFor("test/gamma")) != 0 {
		t.Error("step-3 model should not have been called after convergence")
	}
}

// TestRunSequentialIterationCap tests that the cap limits executed steps
func TestRunSequentialIterationCap(t *testing.T) {
	step := 0
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		step++
		return fmt.Sprintf("completely distinct answer number%d with differing tokens%d", step, step*7), nil
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-6",
		Query:  "refine this",
		Mode:   ModeSequential,
		Roles:  sequentialRoles(),
		Params: TurnParams{IterationCap: 2, ConvergenceThreshold: float64Ptr(0.99)},
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(turn.Stages) != 2 {
		t.Fatalf("Stages = %d, want 2 (capped)", len(turn.Stages))
	}
	if turn.Result == nil || turn.Result.Model != "test/beta" {
		t.Errorf("Result = %+v, want the last executed step's output", turn.Result)
	}
}

// TestRunSequentialStepFailure tests that the chain skips a failed step
// and carries the previous output forward
func TestRunSequentialStepFailure(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		switch model {
		case "test/alpha":
			return "original draft from alpha", nil
		case "test/beta":
			return "", &CallError{Model: model, Kind: FailureTransport, Err: errors.New("conn reset")}
		default:
			return "polished distinct wording entirely", nil
		}
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-7",
		Query:  "refine this",
		Mode:   ModeSequential,
		Roles:  sequentialRoles(),
		Params: TurnParams{ConvergenceThreshold: float64Ptr(0.99)},
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(turn.Stages) != 3 {
		t.Fatalf("Stages = %d, want 3", len(turn.Stages))
	}
	if !turn.Stages[1].Outputs[0].Failed {
		t.Error("step-2 output should be failure-marked")
	}

	// Step 3 saw step 1's output, not the failed step's.
	gammaCalls := gw.CallsFor("test/gamma")
	if len(gammaCalls) != 1 || !strings.Contains(gammaCalls[0].Prompt, "original draft from alpha") {
		t.Errorf("step-3 prompt should carry step-1's answer, got %q", gammaCalls[0].Prompt)
	}

	// Convergence on step 3 compares against the last success (step 1).
	conv := turn.Stages[2].Convergence
	if conv == nil || conv.Step != 3 {
		t.Errorf("Convergence = %+v, want info at step 3", conv)
	}

	if turn.Result == nil || turn.Result.Model != "test/gamma" {
		t.Errorf("Result = %+v, want step-3's output", turn.Result)
	}
}

// TestRunSequentialAllStepsFail tests a chain with no usable step
func TestRunSequentialAllStepsFail(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		return "", &CallError{Model: model, Kind: FailureRejected, Err: errors.New("402")}
	}}
	orch := NewOrchestrator(gw)

	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-8",
		Query:  "refine this",
		Mode:   ModeSequential,
		Roles:  sequentialRoles(),
	}, nil)
	if err != nil {
		t.Fatalf("Run should absorb the stage failure, got: %v", err)
	}
	if turn.Error == nil || turn.Error.Stage != "relay" {
		t.Errorf("Turn error = %+v, want relay stage failure", turn.Error)
	}
	if len(turn.Stages) != 3 {
		t.Errorf("Stages = %d, want 3 failed step records", len(turn.Stages))
	}
}

// TestRunEnsemble tests collection plus call-free weighted combination
func TestRunEnsemble(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		switch model {
		case "test/alpha":
			return "alpha answer\nCONFIDENCE: 0.6", nil
		case "test/beta":
			return "beta answer\nCONFIDENCE: 0.9", nil
		default:
			return "gamma answer", nil
		}
	}}
	orch := NewOrchestrator(gw)

	roles := []RoleBinding{
		{Model: "test/alpha", Role: RoleMember},
		{Model: "test/beta", Role: RoleMember},
		{Model: "test/gamma", Role: RoleMember},
	}
	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-9",
		Query:  "pick one",
		Mode:   ModeEnsemble,
		Roles:  roles,
		Params: TurnParams{Weights: map[string]float64{
			"test/alpha": 0.5, "test/beta": 0.5, "test/gamma": 0.1,
		}},
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(turn.Stages) != 2 {
		t.Fatalf("Stages = %d, want 2", len(turn.Stages))
	}

	// Effective weights: alpha 0.5*0.6=0.30, beta 0.5*0.9=0.45, gamma 0.1.
	if turn.Result == nil || turn.Result.Model != "test/beta" {
		t.Fatalf("Result = %+v, want test/beta", turn.Result)
	}

	combine := turn.Stages[1]
	if combine.Kind != KindEnsembleScore {
		t.Errorf("Combine kind = %q", combine.Kind)
	}
	if len(combine.Attribution) != 3 {
		t.Errorf("Attribution entries = %d, want 3", len(combine.Attribution))
	}

	// Combine makes no model call: exactly one call per member.
	if calls := len(gw.Calls()); calls != 3 {
		t.Errorf("Gateway calls = %d, want 3", calls)
	}
}

// TestRunDecision tests the five-stage decision pipeline end to end
func TestRunDecision(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		switch role {
		case RoleDesigner:
			return "Reasoning...\n\nCRITERIA:\n1. Cost\n2. Speed", nil
		case RoleGenerator:
			return "Reasoning...\n\nOPTIONS:\n1. Alpha\n2. Beta\n3. Gamma", nil
		case RoleEvaluator:
			// Nobody scores option 3.
			if model == "test/eval1" {
				return "SCORES:\n1 | 1 | 8\n1 | 2 | 6\n2 | 1 | 9\n2 | 2 | 9", nil
			}
			return "SCORES:\n1 | 1 | 6\n2 | 1 | 7", nil
		case RoleRiskAssessor:
			return "Beta carries vendor lock-in risk.", nil
		case RoleSynthesizer:
			return "Recommend Beta, watch the lock-in.", nil
		default:
			return "", fmt.Errorf("unexpected role %q", role)
		}
	}}
	orch := NewOrchestrator(gw)

	roles := []RoleBinding{
		{Model: "test/designer", Role: RoleDesigner},
		{Model: "test/generator", Role: RoleGenerator},
		{Model: "test/eval1", Role: RoleEvaluator},
		{Model: "test/eval2", Role: RoleEvaluator},
		{Model: "test/risk", Role: RoleRiskAssessor},
		{Model: "test/synth", Role: RoleSynthesizer},
	}
	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-10",
		Query:  "buy or build?",
		Mode:   ModeDecision,
		Roles:  roles,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(turn.Stages) != 5 {
		t.Fatalf("Stages = %d, want 5", len(turn.Stages))
	}

	board := turn.Stages[2].Board
	if board == nil {
		t.Fatal("Missing decision board on evaluation stage")
	}
	if len(board.Options) != 3 || len(board.Criteria) != 2 {
		t.Errorf("Board shape: %d options, %d criteria", len(board.Options), len(board.Criteria))
	}

	// Gamma was never scored.
	if !board.Scores[2].Unscored {
		t.Error("Gamma should be flagged unscored")
	}
	if len(board.Ranked) != 2 || board.Ranked[0] != "Beta" {
		t.Errorf("Ranked = %v, want Beta first", board.Ranked)
	}

	if turn.Result == nil || turn.Result.Model != "test/synth" {
		t.Fatalf("Result = %+v, want synthesizer output", turn.Result)
	}
}

// TestRunDecisionMalformedCriteria tests failing fast when the designer's
// output cannot be parsed
func TestRunDecisionMalformedCriteria(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		return "I have no list for you.", nil
	}}
	orch := NewOrchestrator(gw)

	roles := []RoleBinding{
		{Model: "test/designer", Role: RoleDesigner},
		{Model: "test/generator", Role: RoleGenerator},
		{Model: "test/eval1", Role: RoleEvaluator},
		{Model: "test/risk", Role: RoleRiskAssessor},
		{Model: "test/synth", Role: RoleSynthesizer},
	}
	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-11",
		Query:  "decide",
		Mode:   ModeDecision,
		Roles:  roles,
	}, nil)
	if err != nil {
		t.Fatalf("Run should absorb the stage failure, got: %v", err)
	}

	if turn.Error == nil || turn.Error.Stage != "criteria-design" {
		t.Fatalf("Turn error = %+v, want criteria-design failure", turn.Error)
	}
	out := turn.Stages[0].Outputs[0]
	if !out.Failed || out.FailureKind != FailureMalformed {
		t.Errorf("Designer output = %+v, want malformed failure", out)
	}
}

// TestRunCancellation tests that an abandoned run persists nothing
func TestRunCancellation(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		return "answer", nil
	}}
	orch := NewOrchestrator(gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	turn, err := orch.Run(ctx, TurnInput{
		TurnID: "turn-12",
		Query:  "q",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, nil)
	if turn != nil {
		t.Errorf("Turn = %+v, want nil on cancellation", turn)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Error = %v, want context.Canceled", err)
	}
}

// TestRunEventOrdering tests the shape of the event stream for a council
// turn
func TestRunEventOrdering(t *testing.T) {
	gw := &fakeGateway{respond: councilResponder(t)}
	orch := NewOrchestrator(gw)

	events := make(chan StageEvent, 64)
	_, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-13",
		Query:  "What is Go?",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	close(events)

	var collected []StageEvent
	for ev := range events {
		if ev.TurnID != "turn-13" {
			t.Errorf("Event turn ID = %q", ev.TurnID)
		}
		collected = append(collected, ev)
	}

	// 3 stage-started + (3+3+1) model-completed + 3 stage-completed +
	// 1 turn-completed.
	if len(collected) != 14 {
		t.Fatalf("Events = %d, want 14", len(collected))
	}
	if collected[0].Type != EventStageStarted || collected[0].Stage != "collect" {
		t.Errorf("First event = %+v", collected[0])
	}
	last := collected[len(collected)-1]
	if last.Type != EventTurnCompleted {
		t.Errorf("Last event = %+v, want turn-completed", last)
	}
	if last.Turn == nil || last.Turn.Result == nil {
		t.Error("turn-completed event must carry the full turn")
	}

	counts := make(map[EventType]int)
	for _, ev := range collected {
		counts[ev.Type]++
	}
	if counts[EventStageStarted] != 3 || counts[EventStageCompleted] != 3 {
		t.Errorf("Stage event counts = %+v", counts)
	}
	if counts[EventModelCompleted] != 7 {
		t.Errorf("model-completed = %d, want 7", counts[EventModelCompleted])
	}
}

// TestRunFailureEventStream tests that a failed turn terminates the
// stream with turn-failed
func TestRunFailureEventStream(t *testing.T) {
	gw := &fakeGateway{respond: func(model, role, prompt string) (string, error) {
		return "", &CallError{Model: model, Kind: FailureRejected, Err: errors.New("nope")}
	}}
	orch := NewOrchestrator(gw)

	events := make(chan StageEvent, 64)
	turn, err := orch.Run(context.Background(), TurnInput{
		TurnID: "turn-14",
		Query:  "q",
		Mode:   ModeCouncil,
		Roles:  councilRoles(),
	}, events)
	if err != nil || turn == nil {
		t.Fatalf("Run = (%v, %v), want failed turn and nil error", turn, err)
	}
	close(events)

	var last StageEvent
	failures := 0
	for ev := range events {
		if ev.Type == EventModelFailed {
			failures++
		}
		last = ev
	}
	if failures != 3 {
		t.Errorf("model-failed events = %d, want 3", failures)
	}
	if last.Type != EventTurnFailed {
		t.Errorf("Last event = %+v, want turn-failed", last)
	}
	if last.Turn == nil || last.Turn.Error == nil {
		t.Error("turn-failed event must carry the turn with its error")
	}
}

// TestRunHistoryForwarding tests that prior-turn history reaches the
// first stage only
func TestRunHistoryForwarding(t *testing.T) {
	gw := &fakeGateway{respond: councilResponder(t)}
	orch := NewOrchestrator(gw)

	history := []GatewayMessage{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	_, err := orch.Run(context.Background(), TurnInput{
		TurnID:  "turn-15",
		Query:   "follow-up",
		Mode:    ModeCouncil,
		Roles:   councilRoles(),
		History: history,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, call := range gw.Calls() {
		isCollect := !strings.Contains(call.Prompt, "FINAL RANKING:") && call.Role == RoleMember
		if isCollect && len(call.History) != 2 {
			t.Errorf("Collect call to %s got %d history messages, want 2", call.Model, len(call.History))
		}
		if !isCollect && len(call.History) != 0 {
			t.Errorf("Later-stage call to %s got history, want none", call.Model)
		}
	}
}
