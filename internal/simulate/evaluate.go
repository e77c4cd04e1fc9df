package simulate

import (
	"errors"
	"fmt"
	"strings"

	"taxbench/internal/money"
	"taxbench/internal/profile"
	"taxbench/internal/rules"
)

var (
	// ErrNotComputable marks a rule type with no numeric formula.
	ErrNotComputable = errors.New("rule has no numeric formula")
	// ErrMissingOperand marks an operand the environment cannot resolve.
	ErrMissingOperand = errors.New("missing operand")
	// ErrUnitMismatch marks an operand of the wrong kind for its slot.
	ErrUnitMismatch = errors.New("operand has the wrong unit")
)

// Result is a computed value with an explanation built from the same inputs.
type Result struct {
	Value       Value
	Explanation string
}

// Evaluate computes rule against the fields of p.
func Evaluate(rule rules.Rule, p profile.Profile) (Result, error) {
	return EvaluateWith(rule, ProfileEnv(p))
}

// EvaluateWith computes rule against env. An unbound rule evaluates to the
// value it states.
func EvaluateWith(rule rules.Rule, env Env) (Result, error) {
	if rule.Recall() {
		return recall(rule)
	}
	ev := evaluator{rule: rule, env: env}

	if g := rule.Operands.Guard; g != "" {
		triggered, err := ev.boolean(g)
		if err != nil {
			return Result{}, err
		}
		if !triggered {
			return Result{
				Value:       Amount(0),
				Explanation: fmt.Sprintf("Under %s, the exception in § %s does not apply, so the amount is %s.", rule.Citation, g, money.Cents(0)),
			}, nil
		}
	}
	if h := rule.Operands.Holding; h != "" {
		held, err := ev.months(h)
		if err != nil {
			return Result{}, err
		}
		if held < rule.Months {
			return Result{
				Value: Amount(0),
				Explanation: fmt.Sprintf("Under %s, the %s held (%d months) is less than the required %d months, so the rule gives %s.",
					rule.Citation, Label(h), held, rule.Months, money.Cents(0)),
			}, nil
		}
	}

	switch rule.Type {
	case rules.PercentageLimit:
		return ev.percentage()
	case rules.Threshold:
		return ev.threshold()
	case rules.TimeRule:
		return ev.duration()
	case rules.Exception:
		return ev.exception()
	case rules.CrossReference:
		return ev.carryover()
	default:
		return Result{}, fmt.Errorf("%s: %w", rule.ID(), ErrNotComputable)
	}
}

func recall(rule rules.Rule) (Result, error) {
	var v Value
	switch rule.Type {
	case rules.PercentageLimit:
		v = Percent(rule.Percent)
	case rules.Threshold:
		if rule.Amount == 0 {
			return Result{}, fmt.Errorf("%s: comparison threshold states no amount: %w", rule.ID(), ErrNotComputable)
		}
		v = Amount(rule.Amount)
	case rules.TimeRule:
		v = Months(rule.Months)
	default:
		return Result{}, fmt.Errorf("%s: %w", rule.ID(), ErrNotComputable)
	}
	return Result{
		Value:       v,
		Explanation: fmt.Sprintf("%s specifies %s.", rule.Citation, v.Render()),
	}, nil
}

type evaluator struct {
	rule rules.Rule
	env  Env
}

func (e evaluator) lookup(name string) (Value, error) {
	if name == "" {
		return Value{}, fmt.Errorf("%s: operand not bound: %w", e.rule.ID(), ErrMissingOperand)
	}
	v, ok := e.env.Lookup(name)
	if !ok {
		return Value{}, fmt.Errorf("%s: %s: %w", e.rule.ID(), name, ErrMissingOperand)
	}
	return v, nil
}

func (e evaluator) amount(name string) (money.Cents, error) {
	v, err := e.lookup(name)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindAmount {
		return 0, fmt.Errorf("%s: %s is %s: %w", e.rule.ID(), name, v.Kind, ErrUnitMismatch)
	}
	return v.Amount, nil
}

func (e evaluator) months(name string) (int, error) {
	v, err := e.lookup(name)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindMonths {
		return 0, fmt.Errorf("%s: %s is %s: %w", e.rule.ID(), name, v.Kind, ErrUnitMismatch)
	}
	return v.Months, nil
}

func (e evaluator) boolean(name string) (bool, error) {
	v, err := e.lookup(name)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, fmt.Errorf("%s: %s is %s: %w", e.rule.ID(), name, v.Kind, ErrUnitMismatch)
	}
	return v.Bool, nil
}

// percentage computes min(subject, pct × base), or pct × base alone when no
// subject is bound.
func (e evaluator) percentage() (Result, error) {
	ops, r := e.rule.Operands, e.rule
	base, err := e.amount(ops.Base)
	if err != nil {
		return Result{}, err
	}
	limit := money.PercentOf(base, r.Percent)
	if ops.Subject == "" {
		return Result{
			Value: Amount(limit),
			Explanation: fmt.Sprintf("Under %s, the amount is %s of the %s: %s × %s = %s.",
				r.Citation, r.Percent, Label(ops.Base), base.RoundDollar(), r.Percent, limit),
		}, nil
	}
	subject, err := e.amount(ops.Subject)
	if err != nil {
		return Result{}, err
	}
	got := money.Min(subject, limit)
	return Result{
		Value: Amount(got),
		Explanation: fmt.Sprintf("Under %s, the %s is limited to %s of the %s: %s × %s = %s. The lesser of %s and %s is %s.",
			r.Citation, Label(ops.Subject), r.Percent, Label(ops.Base), base.RoundDollar(), r.Percent, limit,
			subject.RoundDollar(), limit, got.RoundDollar()),
	}, nil
}

func (e evaluator) threshold() (Result, error) {
	ops, r := e.rule.Operands, e.rule
	subject, err := e.amount(ops.Subject)
	if err != nil {
		return Result{}, err
	}
	limit, limitLabel := r.Amount, r.Amount.RoundDollar().String()
	if limit == 0 || ops.Base != "" {
		if limit, err = e.amount(ops.Base); err != nil {
			return Result{}, err
		}
		limitLabel = fmt.Sprintf("the %s (%s)", Label(ops.Base), limit.RoundDollar())
	}

	switch r.Op {
	case rules.OpCap:
		got := money.Min(subject, limit)
		return Result{
			Value: Amount(got),
			Explanation: fmt.Sprintf("Under %s, the %s (%s) may not exceed %s, so the amount is %s.",
				r.Citation, Label(ops.Subject), subject.RoundDollar(), limitLabel, got.RoundDollar()),
		}, nil
	case rules.OpExcess:
		got := money.Max(0, subject-limit)
		return Result{
			Value: Amount(got),
			Explanation: fmt.Sprintf("Under %s, the amount is the excess of the %s (%s) over %s: max(0, %s − %s) = %s.",
				r.Citation, Label(ops.Subject), subject.RoundDollar(), limitLabel, subject.RoundDollar(), limit.RoundDollar(), got.RoundDollar()),
		}, nil
	default:
		met := subject >= limit
		return Result{
			Value: Bool(met),
			Explanation: fmt.Sprintf("Under %s, the %s (%s) %s %s.",
				r.Citation, Label(ops.Subject), subject.RoundDollar(), verb(met, "meets", "does not meet"), limitLabel),
		}, nil
	}
}

func (e evaluator) duration() (Result, error) {
	ops, r := e.rule.Operands, e.rule
	held, err := e.months(ops.Subject)
	if err != nil {
		return Result{}, err
	}
	if held < 0 || (r.WindowMonths > 0 && held > r.WindowMonths) {
		return Result{}, fmt.Errorf("%s: %d months does not fit a %d-month window: %w", r.ID(), held, r.WindowMonths, ErrNotComputable)
	}
	met := held >= r.Months
	within := ""
	if r.WindowMonths > 0 {
		within = fmt.Sprintf(" within the %d-month period", r.WindowMonths)
	}
	return Result{
		Value: Bool(met),
		Explanation: fmt.Sprintf("Under %s, %d months of %s%s %s the %d-month requirement.",
			r.Citation, held, Label(ops.Subject), within, verb(met, "meets", "does not meet"), r.Months),
	}, nil
}

// exception evaluates the trigger of an exception as subject > base.
func (e evaluator) exception() (Result, error) {
	ops, r := e.rule.Operands, e.rule
	subject, err := e.amount(ops.Subject)
	if err != nil {
		return Result{}, err
	}
	base, err := e.amount(ops.Base)
	if err != nil {
		return Result{}, err
	}
	applies := subject > base
	return Result{
		Value: Bool(applies),
		Explanation: fmt.Sprintf("Under %s, the exception applies only if the %s (%s) exceeds the %s (%s); it %s.",
			r.Citation, Label(ops.Subject), subject.RoundDollar(), Label(ops.Base), base.RoundDollar(), verb(applies, "does", "does not")),
	}, nil
}

// carryover computes subject + Σplus − Σminus.
func (e evaluator) carryover() (Result, error) {
	ops, r := e.rule.Operands, e.rule
	total, err := e.amount(ops.Subject)
	if err != nil {
		return Result{}, err
	}
	steps := []string{total.RoundDollar().String()}
	for _, name := range ops.Minus {
		v, err := e.amount(name)
		if err != nil {
			return Result{}, err
		}
		total -= v
		steps = append(steps, "− "+v.RoundDollar().String())
	}
	for _, name := range ops.Plus {
		v, err := e.amount(name)
		if err != nil {
			return Result{}, err
		}
		total += v
		steps = append(steps, "+ "+v.RoundDollar().String())
	}
	floor := ""
	if ops.FloorZero && total < 0 {
		floor = fmt.Sprintf(", floored at %s", money.Cents(0))
		total = 0
	}
	return Result{
		Value: Amount(total),
		Explanation: fmt.Sprintf("Under %s, the %s is carried over and adjusted: %s = %s%s.",
			r.Citation, Label(ops.Subject), strings.Join(steps, " "), total.RoundDollar(), floor),
	}, nil
}

func verb(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
