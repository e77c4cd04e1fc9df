// Package distractor synthesizes plausible wrong answers.
//
// Numeric answers get one distractor from each of three strategies:
// misapplying the rule (a different percentage, the opposite threshold
// comparison, reversed adjustments), the naive answer with the statutory
// cap or floor omitted, and an arithmetic slip (wrong operand or transposed
// digits). A strategy whose value collides with the answer or an earlier
// distractor draws a new perturbation parameter, up to Input.Retries times.
package distractor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"taxbench/internal/money"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
)

// DefaultRetries bounds redraws per strategy.
const DefaultRetries = 5

// ErrCollision is returned when a strategy cannot produce a distinct value.
var ErrCollision = errors.New("distractor collides with an existing choice")

// Input is everything a strategy may perturb.
type Input struct {
	Correct simulate.Value
	Rule    rules.Rule
	// Env resolves the rule's operands, including chain predecessors.
	Env     simulate.Env
	Rand    *rand.Rand
	Retries int
	// Percents and Amounts are values stated by other rules in the library.
	Percents []money.BasisPoints
	Amounts  []money.Cents
}

var (
	commonPercents = []money.BasisPoints{1000, 1500, 2000, 2500, 3000, 4000, 5000, 6000, 8000, 10000}
	commonMonths   = []int{6, 12, 18, 24, 36, 48, 60, 84, 120}
)

type strategy struct {
	name string
	draw func(in Input, attempt int) (simulate.Value, bool)
}

// Synthesize returns exactly three rendered distractors distinct from the
// correct answer and from each other, or ErrCollision.
func Synthesize(in Input) ([]string, error) {
	if in.Rand == nil {
		return nil, errors.New("distractor: nil random stream")
	}
	if in.Retries <= 0 {
		in.Retries = DefaultRetries
	}
	seen := map[string]bool{in.Correct.Render(): true}
	out := make([]string, 0, 3)
	for _, s := range strategiesFor(in) {
		accepted := false
		for attempt := 0; attempt <= in.Retries; attempt++ {
			v, ok := s.draw(in, attempt)
			if !ok || v.Kind != in.Correct.Kind || !valid(v) {
				continue
			}
			r := v.Render()
			if seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
			accepted = true
			break
		}
		if !accepted {
			return out, fmt.Errorf("%s strategy for %s: %w", s.name, in.Rule.ID(), ErrCollision)
		}
	}
	return out, nil
}

func valid(v simulate.Value) bool {
	switch v.Kind {
	case simulate.KindAmount:
		return v.Amount >= 0
	case simulate.KindPercent:
		return v.Percent > 0 && v.Percent <= money.Whole
	case simulate.KindMonths:
		return v.Months > 0
	default:
		return false
	}
}

func strategiesFor(in Input) []strategy {
	switch in.Correct.Kind {
	case simulate.KindPercent:
		return []strategy{{"other-rule", otherPercent}, {"other-rule", otherPercent}, {"common", commonPercent}}
	case simulate.KindMonths:
		return []strategy{{"window", windowMonths}, {"common", otherMonths}, {"common", otherMonths}}
	}
	if in.Rule.Recall() {
		return []strategy{{"other-rule", otherAmount}, {"scaled", scaledAmount}, {"transposed", transposedAmount}}
	}
	return []strategy{{"misapplied", misapplied}, {"naive", naive}, {"arithmetic", arithmetic}}
}

// Arrange shuffles the correct answer in among the distractors and returns
// the choices and the index of the correct answer.
func Arrange(correct string, distractors []string, rng *rand.Rand) ([]string, int) {
	choices := append([]string{correct}, distractors...)
	rng.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })
	return choices, slices.Index(choices, correct)
}

// Terms picks three distinct terms other than correct from pool, for
// definition questions.
func Terms(correct string, pool []string, rng *rand.Rand) ([]string, error) {
	var candidates []string
	for _, t := range pool {
		if t != "" && t != correct && !slices.Contains(candidates, t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) < 3 {
		return nil, fmt.Errorf("only %d alternative terms for %q: %w", len(candidates), correct, ErrCollision)
	}
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	return candidates[:3], nil
}
