package main

import (
	"fmt"
	"strings"
)

// Prompt builders for every stage of every topology. The council prompts
// keep the strict output contracts the parsers in aggregate.go rely on
// (FINAL RANKING, CRITERIA, OPTIONS, SCORES, CONFIDENCE sections).

// BuildReviewPrompt shows a reviewer the anonymized responses and demands
// a machine-parseable final ranking.
func BuildReviewPrompt(userQuery string, labeled []LabeledResponse) string {
	var responsesText strings.Builder
	for _, lr := range labeled {
		responsesText.WriteString(fmt.Sprintf("%s:\n%s\n\n", lr.Label, lr.Content))
	}

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`, userQuery, responsesText.String())
}

// LabeledResponse pairs an opaque label with the content shown under it.
type LabeledResponse struct {
	Label   string
	Content string
}

// BuildSynthesisPrompt gives the chairman every raw response plus the
// aggregate ranking and asks for the final answer.
func BuildSynthesisPrompt(userQuery string, responses []ModelOutput, reviews []ModelOutput, ranking []RankEntry) string {
	var responsesText strings.Builder
	for _, out := range responses {
		if out.Failed {
			continue
		}
		responsesText.WriteString(fmt.Sprintf("Model: %s\nResponse: %s\n\n", out.Model, out.Content))
	}

	var reviewsText strings.Builder
	for _, out := range reviews {
		if out.Failed {
			continue
		}
		reviewsText.WriteString(fmt.Sprintf("Model: %s\nRanking: %s\n\n", out.Model, out.Content))
	}

	var rankingText strings.Builder
	for _, entry := range ranking {
		rankingText.WriteString(fmt.Sprintf("%d. %s (%d points, %d first-place votes)\n",
			entry.Rank, entry.Model, entry.Points, entry.FirstPlaces))
	}

	return fmt.Sprintf(`You are the Chairman of a multi-model council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Aggregate ranking (Borda count across all reviewers):
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`,
		userQuery, responsesText.String(), reviewsText.String(), rankingText.String())
}

// BuildCriteriaPrompt asks the designer for decision criteria as a
// parseable numbered list.
func BuildCriteriaPrompt(userQuery string) string {
	return fmt.Sprintf(`You are designing evaluation criteria for the following decision:

Decision: %s

Identify the 3-6 criteria that matter most when choosing between possible options. Explain each briefly.

IMPORTANT: End your response with a section formatted EXACTLY as follows:
- Start with the line "CRITERIA:" (all caps, with colon)
- Then a numbered list, one criterion name per line (e.g., "1. Cost")

Now provide your analysis and criteria:`, userQuery)
}

// BuildOptionsPrompt asks the generator for candidate options, given the
// designer's criteria verbatim.
func BuildOptionsPrompt(userQuery, criteriaText string) string {
	return fmt.Sprintf(`You are generating candidate options for the following decision:

Decision: %s

Evaluation criteria designed so far:
%s

Propose 3-6 distinct, realistic options. Describe each briefly.

IMPORTANT: End your response with a section formatted EXACTLY as follows:
- Start with the line "OPTIONS:" (all caps, with colon)
- Then a numbered list, one short option name per line (e.g., "1. Build in-house")

Now provide your reasoning and options:`, userQuery, criteriaText)
}

// BuildEvaluationPrompt asks an evaluator to score every option against
// every criterion in a strict pipe-separated format.
func BuildEvaluationPrompt(userQuery string, criteria, options []string) string {
	var criteriaText strings.Builder
	for i, c := range criteria {
		criteriaText.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	var optionsText strings.Builder
	for i, o := range options {
		optionsText.WriteString(fmt.Sprintf("%d. %s\n", i+1, o))
	}

	return fmt.Sprintf(`You are evaluating options for the following decision:

Decision: %s

Criteria:
%s
Options:
%s
Score every option against every criterion on a 0-10 scale (10 is best). Briefly justify notable scores.

IMPORTANT: End your response with a section formatted EXACTLY as follows:
- Start with the line "SCORES:" (all caps, with colon)
- Then one line per (option, criterion) pair: option number, pipe, criterion number, pipe, score
- Example: "2 | 1 | 7" means option 2 scores 7 on criterion 1
- Do not add any other text in the scores section

Now provide your evaluation and scores:`, userQuery, criteriaText.String(), optionsText.String())
}

// BuildRiskPrompt feeds the evaluation stage's aggregate to the risk
// assessor verbatim.
func BuildRiskPrompt(userQuery string, options []string, board *DecisionBoard, evaluationText string) string {
	var boardText strings.Builder
	for _, s := range board.Scores {
		if s.Unscored {
			boardText.WriteString(fmt.Sprintf("- %s: unscored\n", s.Option))
			continue
		}
		boardText.WriteString(fmt.Sprintf("- %s: composite %.2f over %d scores\n", s.Option, s.Composite, s.Samples))
	}

	return fmt.Sprintf(`You are the risk assessor for the following decision:

Decision: %s

Options under consideration:
%s

Composite evaluation scores:
%s

Evaluator commentary:
%s

For each option, identify the major risks, their likelihood, and possible mitigations. Call out any risk severe enough to disqualify an option regardless of its score.`,
		userQuery, strings.Join(options, "\n"), boardText.String(), evaluationText)
}

// BuildDecisionSynthesisPrompt hands the synthesizer every prior stage's
// output and the score board.
func BuildDecisionSynthesisPrompt(userQuery, criteriaText, optionsText string, board *DecisionBoard, riskText string) string {
	var rankedText strings.Builder
	for i, option := range board.Ranked {
		rankedText.WriteString(fmt.Sprintf("%d. %s\n", i+1, option))
	}
	var unscoredText strings.Builder
	for _, s := range board.Scores {
		if s.Unscored {
			unscoredText.WriteString(fmt.Sprintf("- %s (no evaluator scored this option)\n", s.Option))
		}
	}
	if unscoredText.Len() == 0 {
		unscoredText.WriteString("(none)\n")
	}

	return fmt.Sprintf(`You are synthesizing the final recommendation for the following decision:

Decision: %s

Criteria design:
%s

Option generation:
%s

Ranked options by composite score:
%s
Unscored options (flagged for visibility, excluded from the ranking):
%s
Risk assessment:
%s

Recommend one option, justify the choice against the criteria and risks, and state what would change your recommendation.`,
		userQuery, criteriaText, optionsText, rankedText.String(), unscoredText.String(), riskText)
}

// BuildStepPrompt gives a relay step the original query and only the
// immediately preceding step's output.
func BuildStepPrompt(userQuery, previous string, step int) string {
	if step == 1 || previous == "" {
		return fmt.Sprintf(`Answer the following question as well as you can. Your answer will be refined further by other models.

Question:
%s`, userQuery)
	}
	return fmt.Sprintf(`You are step %d of a refinement relay answering this question:

Question:
%s

Previous step's answer:
%s

Improve or extend the previous answer, ensuring correctness and clarity. Return the full improved answer, not a diff.`,
		step, userQuery, previous)
}

// BuildEnsemblePrompt asks an ensemble member for an independent answer
// plus an optional self-reported confidence line.
func BuildEnsemblePrompt(userQuery string) string {
	return fmt.Sprintf(`Answer the following question independently. Other models are answering the same question; you will not see their answers and they will not see yours.

Question:
%s

After your answer, you may optionally add a final line of the form "CONFIDENCE: 0.85" with your confidence in [0,1] that your answer is correct and complete.`, userQuery)
}

// BuildTitlePrompt asks a fast model for a 3-5 word conversation title.
func BuildTitlePrompt(userQuery string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)
}
