package main

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Mode-specific aggregation: Borda ranking for council, score tables for
// decision, convergence testing for sequential, weighted combination for
// ensemble — plus the parsers that turn model text into those structures.
// All aggregation works on the complete multiset of successful outputs,
// never on arrival order.

var (
	numberedResponsePattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	responseLabelPattern    = regexp.MustCompile(`Response [A-Z]`)
	numberedItemPattern     = regexp.MustCompile(`(?m)^\s*\d+\.\s*(.+?)\s*$`)
	scoreLinePattern        = regexp.MustCompile(`(?m)^\s*(\d+)\s*\|\s*(\d+)\s*\|\s*(\d+(?:\.\d+)?)\s*$`)
	confidencePattern       = regexp.MustCompile(`(?mi)^\s*CONFIDENCE:\s*([01](?:\.\d+)?)\s*$`)
)

// ParseRankingFromText extracts the ranking from a reviewer's response.
// Looks for a "FINAL RANKING:" section and parses numbered labels
// (e.g., "1. Response A"). Falls back to extracting any "Response X"
// patterns found in the text.
func ParseRankingFromText(rankingText string) []string {
	if strings.Contains(rankingText, "FINAL RANKING:") {
		parts := strings.SplitN(rankingText, "FINAL RANKING:", 2)
		if len(parts) == 2 {
			rankingSection := parts[1]

			numberedMatches := numberedResponsePattern.FindAllString(rankingSection, -1)
			if len(numberedMatches) > 0 {
				var results []string
				for _, match := range numberedMatches {
					if resp := responseLabelPattern.FindString(match); resp != "" {
						results = append(results, resp)
					}
				}
				return results
			}

			if matches := responseLabelPattern.FindAllString(rankingSection, -1); len(matches) > 0 {
				return matches
			}
		}
	}

	return responseLabelPattern.FindAllString(rankingText, -1)
}

// BordaRanking aggregates reviewer orderings into a single ranking. Each
// reviewer's top pick among k labels earns k-1 points down to 0 for the
// last; points are summed over reviewers that returned a usable ordering
// (absent reviewers contribute nothing, they are not penalties). Ties are
// broken by first-place votes, then by model identity, for determinism.
func BordaRanking(orderings [][]string, k int) []RankEntry {
	points := make(map[string]int)
	firsts := make(map[string]int)

	for _, order := range orderings {
		for pos, model := range order {
			award := k - 1 - pos
			if award < 0 {
				award = 0
			}
			points[model] += award
			if pos == 0 {
				firsts[model]++
			}
		}
	}

	entries := make([]RankEntry, 0, len(points))
	for model, p := range points {
		entries = append(entries, RankEntry{
			Model:       model,
			Points:      p,
			FirstPlaces: firsts[model],
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		if entries[i].FirstPlaces != entries[j].FirstPlaces {
			return entries[i].FirstPlaces > entries[j].FirstPlaces
		}
		return entries[i].Model < entries[j].Model
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// ParseNumberedList extracts the numbered items following a section header
// such as "CRITERIA:" or "OPTIONS:". Falls back to any numbered lines in
// the whole text when the header is missing.
func ParseNumberedList(text, header string) []string {
	section := text
	if idx := strings.Index(text, header); idx >= 0 {
		section = text[idx+len(header):]
	}

	var items []string
	for _, match := range numberedItemPattern.FindAllStringSubmatch(section, -1) {
		item := strings.TrimSpace(match[1])
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ScoreTriple is one evaluator judgement: option and criterion are
// 1-based indexes into the stage's option and criteria lists.
type ScoreTriple struct {
	Option    int
	Criterion int
	Score     float64
}

// ParseScores extracts "option | criterion | score" lines from an
// evaluator's SCORES section, dropping out-of-range indexes. An output
// with no parseable triple is malformed for aggregation purposes.
func ParseScores(text string, optionCount, criteriaCount int) ([]ScoreTriple, error) {
	section := text
	if idx := strings.Index(text, "SCORES:"); idx >= 0 {
		section = text[idx:]
	}

	var triples []ScoreTriple
	for _, match := range scoreLinePattern.FindAllStringSubmatch(section, -1) {
		option, _ := strconv.Atoi(match[1])
		criterion, _ := strconv.Atoi(match[2])
		score, _ := strconv.ParseFloat(match[3], 64)
		if option < 1 || option > optionCount || criterion < 1 || criterion > criteriaCount {
			continue
		}
		triples = append(triples, ScoreTriple{Option: option, Criterion: criterion, Score: score})
	}
	if len(triples) == 0 {
		return nil, fmt.Errorf("no parseable score lines")
	}
	return triples, nil
}

// ScoreOptions builds the decision board: per-option composite is the
// unweighted mean over every (criterion, evaluator) score present for that
// option. Options no evaluator scored are flagged unscored and excluded
// from the ranked list but retained for visibility.
func ScoreOptions(criteria, options []string, evaluations [][]ScoreTriple) *DecisionBoard {
	sums := make([]float64, len(options))
	counts := make([]int, len(options))
	for _, triples := range evaluations {
		for _, t := range triples {
			sums[t.Option-1] += t.Score
			counts[t.Option-1]++
		}
	}

	board := &DecisionBoard{
		Criteria: append([]string(nil), criteria...),
		Options:  append([]string(nil), options...),
		Scores:   make([]OptionScore, 0, len(options)),
	}
	for i, option := range options {
		if counts[i] == 0 {
			board.Scores = append(board.Scores, OptionScore{Option: option, Unscored: true})
			continue
		}
		board.Scores = append(board.Scores, OptionScore{
			Option:    option,
			Composite: sums[i] / float64(counts[i]),
			Samples:   counts[i],
		})
	}

	ranked := make([]OptionScore, 0, len(board.Scores))
	for _, s := range board.Scores {
		if !s.Unscored {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Composite > ranked[j].Composite
	})
	for _, s := range ranked {
		board.Ranked = append(board.Ranked, s.Option)
	}
	return board
}

// TokenOverlap is the sequential convergence measure: the size of the
// shared lowercase token set divided by the larger set's size. Returns a
// value in [0,1]; two empty texts count as identical.
func TokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for token := range setA {
		if setB[token] {
			shared++
		}
	}
	larger := len(setA)
	if len(setB) > larger {
		larger = len(setB)
	}
	return float64(shared) / float64(larger)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		set[token] = true
	}
	return set
}

// ParseConfidence extracts a trailing self-reported "CONFIDENCE: x" line.
// Returns 1 when absent or out of range.
func ParseConfidence(text string) float64 {
	matches := confidencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 1
	}
	value, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil || value < 0 || value > 1 {
		return 1
	}
	return value
}

// CombineEnsemble selects the highest-weighted output without any model
// call. Effective weight = configured per-model weight (default uniform
// over successful members) times self-reported confidence (default 1).
// Ties resolve to the earliest output in binding order. Failed collects
// are excluded from weighting and attribution entirely.
func CombineEnsemble(outputs []ModelOutput, weights map[string]float64) (*ModelOutput, []AttributionEntry) {
	successes := make([]ModelOutput, 0, len(outputs))
	for _, out := range outputs {
		if !out.Failed {
			successes = append(successes, out)
		}
	}
	if len(successes) == 0 {
		return nil, nil
	}

	uniform := 1.0 / float64(len(successes))
	var winner *ModelOutput
	var winnerWeight float64
	attribution := make([]AttributionEntry, 0, len(successes))

	for i := range successes {
		out := &successes[i]
		base := uniform
		if w, ok := weights[out.Model]; ok {
			base = w
		}
		effective := base * ParseConfidence(out.Content)
		attribution = append(attribution, AttributionEntry{
			Model:   out.Model,
			Weight:  effective,
			Excerpt: excerptOf(out.Content),
		})
		// Strictly-greater keeps the earliest binding on ties.
		if winner == nil || effective > winnerWeight {
			winner = out
			winnerWeight = effective
		}
	}
	return winner, attribution
}

// excerptOf returns a one-line summary of a position for attribution.
func excerptOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || confidencePattern.MatchString(line) {
			continue
		}
		if len(line) > 120 {
			return line[:117] + "..."
		}
		return line
	}
	return ""
}
