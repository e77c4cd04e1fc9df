// Package entailment renders rules bound to profiles as logical fact
// patterns and checks the logic evaluator's verdict against the template
// engine.
package entailment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taxbench/internal/logging"
	"taxbench/internal/logic"
	"taxbench/internal/money"
	"taxbench/internal/profile"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
)

var (
	// ErrUnsupported marks a rule with no statutory predicate.
	ErrUnsupported = errors.New("no predicate for rule")
	// ErrUndetermined marks an Unknown verdict; the fact pattern is
	// under-specified and the candidate is dropped.
	ErrUndetermined = errors.New("verdict is unknown")
	// ErrDisagreement marks a verdict that differs from the computed one.
	ErrDisagreement = errors.New("logic verdict disagrees with computed value")
)

// Predicate names the statutory predicate a pattern queries.
type Predicate string

const (
	ResidenceTest   Predicate = "meets_residence_test"
	DurationTest    Predicate = "meets_duration"
	RecognizedGain  Predicate = "recognized_gain_357c"
	ThresholdTest   Predicate = "meets_threshold"
	ExcessThreshold Predicate = "excess_over_threshold"
)

// Pattern is a fact pattern with its query and the verdict the template
// engine computed for the same inputs.
type Pattern struct {
	Rule      rules.Rule
	Predicate Predicate
	Facts     []string
	Query     string
	Expected  logic.Verdict
	Scenario  string
	Question  string
}

// Generate renders rule bound to p as a minimal fact pattern.
func Generate(rule rules.Rule, p profile.Profile) (Pattern, error) {
	pred, err := SelectPredicate(rule)
	if err != nil {
		return Pattern{}, err
	}
	res, err := simulate.Evaluate(rule, p)
	if err != nil {
		return Pattern{}, err
	}
	expected, err := verdictOf(res.Value)
	if err != nil {
		return Pattern{}, fmt.Errorf("%s: %w", rule.ID(), err)
	}
	entity := Entity(rule)
	pat := Pattern{Rule: rule, Predicate: pred, Expected: expected}
	ops := rule.Operands

	switch pred {
	case ResidenceTest:
		held, _ := p.Months(ops.Subject)
		window := rule.WindowMonths
		if window == 0 {
			window = 60
		}
		pat.Facts = []string{
			fmt.Sprintf("residence_months(%s, %d).", entity, held),
			fmt.Sprintf("lookback_months(%s, %d).", entity, window),
		}
		pat.Query = fmt.Sprintf("%s(%s)", pred, entity)
		pat.Scenario = fmt.Sprintf("A taxpayer sells a home. During the %d-month period ending on the date of the sale, the taxpayer owned the home and used it as a principal residence for periods aggregating %d months.", window, held)
		pat.Question = fmt.Sprintf("Does the taxpayer meet the ownership and use requirement of %s?", rule.Citation)
	case DurationTest:
		held, _ := p.Months(ops.Subject)
		pat.Facts = []string{
			fmt.Sprintf("duration_months(%s, %d).", entity, held),
			fmt.Sprintf("required_months(%s, %d).", entity, rule.Months),
		}
		pat.Query = fmt.Sprintf("%s(%s)", pred, entity)
		pat.Scenario = fmt.Sprintf("The %s is %d months.", simulate.Label(ops.Subject), held)
		pat.Question = fmt.Sprintf("Is the %d-month requirement of %s satisfied?", rule.Months, rule.Citation)
	case RecognizedGain:
		liability := dollars(p, ops.Subject)
		basis := dollars(p, ops.Base)
		pat.Facts = []string{
			fmt.Sprintf("section_351_transfer(%s).", entity),
			fmt.Sprintf("liability_dollars(%s, %d).", entity, liability),
			fmt.Sprintf("basis_dollars(%s, %d).", entity, basis),
		}
		pat.Query = fmt.Sprintf("%s(%s, G)", pred, entity)
		pat.Scenario = fmt.Sprintf("In an exchange to which section 351 applies, a taxpayer transfers property with an adjusted basis of %s to a corporation, which assumes %s of the taxpayer's liabilities.",
			money.Dollars(basis), money.Dollars(liability))
		pat.Question = fmt.Sprintf("What gain, in dollars, is recognized under %s?", rule.Citation)
	case ThresholdTest, ExcessThreshold:
		measured := dollars(p, ops.Subject)
		limit := rule.Amount.WholeDollars()
		if ops.Base != "" {
			limit = dollars(p, ops.Base)
		}
		pat.Facts = []string{
			fmt.Sprintf("measured_dollars(%s, %d).", entity, measured),
			fmt.Sprintf("threshold_dollars(%s, %d).", entity, limit),
		}
		pat.Scenario = fmt.Sprintf("The %s is %s.", simulate.Label(ops.Subject), money.Dollars(measured))
		if pred == ThresholdTest {
			pat.Query = fmt.Sprintf("%s(%s)", pred, entity)
			pat.Question = fmt.Sprintf("Does the %s reach the %s threshold of %s?", simulate.Label(ops.Subject), money.Dollars(limit), rule.Citation)
		} else {
			pat.Query = fmt.Sprintf("%s(%s, E)", pred, entity)
			pat.Question = fmt.Sprintf("By how many dollars does the %s exceed the %s amount in %s?", simulate.Label(ops.Subject), money.Dollars(limit), rule.Citation)
		}
	}
	logging.EntailmentDebug("%s: %s over %d facts, expecting %s", rule.ID(), pat.Query, len(pat.Facts), pat.Expected)
	return pat, nil
}

// SelectPredicate chooses the statutory predicate from the rule's type and
// trigger.
func SelectPredicate(rule rules.Rule) (Predicate, error) {
	trigger := strings.ToLower(rule.Trigger + " " + rule.Text)
	switch rule.Type {
	case rules.TimeRule:
		if rule.Operands.Subject == "" {
			break
		}
		if strings.Contains(trigger, "residence") {
			return ResidenceTest, nil
		}
		return DurationTest, nil
	case rules.Threshold:
		if rule.Operands.Subject == "" {
			break
		}
		if rule.Op == rules.OpExcess && strings.Contains(trigger, "liabilit") && rule.Operands.Base != "" {
			return RecognizedGain, nil
		}
		if rule.Op == rules.OpMeets {
			return ThresholdTest, nil
		}
		if rule.Op == rules.OpExcess {
			return ExcessThreshold, nil
		}
	}
	return "", fmt.Errorf("%s (%s): %w", rule.ID(), rule.Type, ErrUnsupported)
}

// Entity is the Mangle name constant standing for the rule's subject, e.g.
// "/s121_a" for 121(a).
func Entity(rule rules.Rule) string {
	var b strings.Builder
	b.WriteString("/s")
	underscore := false
	for _, r := range strings.ToLower(rule.ID()) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Ask submits the pattern to ev. Unknown verdicts and verdicts that
// disagree with the computed one are errors.
func Ask(ctx context.Context, pat Pattern, ev logic.Evaluator) (logic.Verdict, error) {
	v, err := ev.Evaluate(ctx, pat.Facts, pat.Query)
	if err != nil {
		return logic.Verdict{}, err
	}
	if v.Kind == logic.Unknown {
		return v, fmt.Errorf("%s: %w", pat.Query, ErrUndetermined)
	}
	if v != pat.Expected {
		return v, fmt.Errorf("%s: got %s, computed %s: %w", pat.Query, v, pat.Expected, ErrDisagreement)
	}
	return v, nil
}

func verdictOf(v simulate.Value) (logic.Verdict, error) {
	switch v.Kind {
	case simulate.KindBool:
		if v.Bool {
			return logic.Entailed(), nil
		}
		return logic.Contradicted(), nil
	case simulate.KindAmount:
		return logic.Number(v.Amount.RoundDollar().WholeDollars()), nil
	default:
		return logic.Verdict{}, fmt.Errorf("%s value has no verdict: %w", v.Kind, ErrUnsupported)
	}
}

func dollars(p profile.Profile, field string) int64 {
	c, _ := p.Amount(field)
	return c.WholeDollars()
}
