package distractor

import (
	"strconv"

	"taxbench/internal/money"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
)

func eval(r rules.Rule, env simulate.Env) (simulate.Value, bool) {
	res, err := simulate.EvaluateWith(r, env)
	if err != nil {
		return simulate.Value{}, false
	}
	return res.Value, true
}

func amount(env simulate.Env, name string) (money.Cents, bool) {
	if name == "" || env == nil {
		return 0, false
	}
	v, ok := env.Lookup(name)
	if !ok || v.Kind != simulate.KindAmount {
		return 0, false
	}
	return v.Amount, true
}

// perturb scales the correct amount by a random factor between 50% and
// 150%. A zero answer is perturbed from the rule's first positive operand.
func perturb(in Input) (simulate.Value, bool) {
	base := in.Correct.Amount
	if base == 0 {
		for _, ref := range in.Rule.Operands.Refs() {
			if a, ok := amount(in.Env, ref); ok && a > 0 {
				base = a
				break
			}
		}
	}
	if base == 0 {
		base = money.Dollars(1000)
	}
	factor := money.BasisPoints(5000 + 500*in.Rand.IntN(21))
	if factor == money.Whole {
		factor += 500
	}
	return simulate.Amount(base.MulBPS(factor).RoundDollar()), true
}

// misapplied applies the rule with the wrong parameter: another percentage,
// the opposite threshold comparison, or adjustments with their signs swapped.
func misapplied(in Input, attempt int) (simulate.Value, bool) {
	r := in.Rule
	switch r.Type {
	case rules.PercentageLimit:
		alts := alternatives(r.Percent, in.Percents)
		if len(alts) == 0 || attempt > 2 {
			return perturb(in)
		}
		r.Percent = alts[in.Rand.IntN(len(alts))]
		return eval(r, in.Env)
	case rules.Threshold:
		if attempt > 0 {
			return perturb(in)
		}
		switch r.Op {
		case rules.OpCap:
			r.Op = rules.OpExcess
		case rules.OpExcess:
			r.Op = rules.OpCap
		default:
			return perturb(in)
		}
		return eval(r, in.Env)
	case rules.CrossReference:
		if attempt > 0 {
			return perturb(in)
		}
		ops := r.Operands
		ops.Plus, ops.Minus = ops.Minus, ops.Plus
		return eval(r.Bind(ops), in.Env)
	}
	return perturb(in)
}

// naive computes the answer with the cap, floor or exception omitted.
func naive(in Input, attempt int) (simulate.Value, bool) {
	if attempt > 1 {
		return perturb(in)
	}
	r := in.Rule
	ops := r.Operands
	if ops.Guard != "" && attempt == 0 {
		ops.Guard = ""
		return eval(r.Bind(ops), in.Env)
	}
	switch r.Type {
	case rules.PercentageLimit:
		if subject, ok := amount(in.Env, ops.Subject); ok && attempt == 0 {
			return simulate.Amount(subject), true
		}
		if base, ok := amount(in.Env, ops.Base); ok {
			if ops.Subject == "" && attempt == 0 {
				return simulate.Amount(base), true
			}
			return simulate.Amount(money.PercentOf(base, r.Percent)), true
		}
	case rules.Threshold:
		if subject, ok := amount(in.Env, ops.Subject); ok {
			return simulate.Amount(subject), true
		}
	case rules.CrossReference:
		if ops.FloorZero && attempt == 0 {
			ops.FloorZero = false
			return eval(r.Bind(ops), in.Env)
		}
		if subject, ok := amount(in.Env, ops.Subject); ok {
			return simulate.Amount(subject), true
		}
	}
	return perturb(in)
}

// arithmetic applies the formula to the wrong operand, or transposes digits.
func arithmetic(in Input, attempt int) (simulate.Value, bool) {
	r := in.Rule
	ops := r.Operands
	switch attempt {
	case 0:
		if r.Type == rules.PercentageLimit && ops.Subject != "" {
			if subject, ok := amount(in.Env, ops.Subject); ok {
				return simulate.Amount(money.PercentOf(subject, r.Percent)), true
			}
		}
		if r.Type == rules.Threshold && r.Op == rules.OpExcess {
			subject, ok1 := amount(in.Env, ops.Subject)
			base, ok2 := amount(in.Env, ops.Base)
			if ok1 && ok2 {
				return simulate.Amount(money.Max(0, base-subject)), true
			}
		}
		return transposed(in.Correct.Amount)
	case 1:
		return transposed(in.Correct.Amount)
	}
	return perturb(in)
}

// transposed swaps the first pair of adjacent distinct digits of the dollar
// amount.
func transposed(c money.Cents) (simulate.Value, bool) {
	digits := []byte(strconv.FormatInt(c.RoundDollar().WholeDollars(), 10))
	for i := 0; i+1 < len(digits); i++ {
		if digits[i] != digits[i+1] && !(i == 0 && digits[i+1] == '0') {
			digits[i], digits[i+1] = digits[i+1], digits[i]
			n, err := strconv.ParseInt(string(digits), 10, 64)
			if err != nil {
				return simulate.Value{}, false
			}
			return simulate.Amount(money.Dollars(n)), true
		}
	}
	return simulate.Value{}, false
}

func transposedAmount(in Input, attempt int) (simulate.Value, bool) {
	if attempt == 0 {
		return transposed(in.Correct.Amount)
	}
	return perturb(in)
}

func otherAmount(in Input, attempt int) (simulate.Value, bool) {
	var alts []money.Cents
	for _, a := range in.Amounts {
		if a != in.Correct.Amount && a > 0 {
			alts = append(alts, a)
		}
	}
	if len(alts) == 0 || attempt > 2 {
		return perturb(in)
	}
	return simulate.Amount(alts[in.Rand.IntN(len(alts))]), true
}

func scaledAmount(in Input, attempt int) (simulate.Value, bool) {
	switch attempt {
	case 0:
		return simulate.Amount(in.Correct.Amount * 2), true
	case 1:
		return simulate.Amount((in.Correct.Amount / 2).RoundDollar()), true
	}
	return perturb(in)
}

func alternatives(correct money.BasisPoints, extra []money.BasisPoints) []money.BasisPoints {
	var alts []money.BasisPoints
	for _, p := range append(append([]money.BasisPoints{}, extra...), commonPercents...) {
		if p != correct && p > 0 && p <= money.Whole {
			alts = append(alts, p)
		}
	}
	return alts
}

func otherPercent(in Input, attempt int) (simulate.Value, bool) {
	alts := alternatives(in.Correct.Percent, in.Percents)
	if len(in.Percents) == 0 || attempt > 1 {
		alts = alternatives(in.Correct.Percent, nil)
	}
	return simulate.Percent(alts[in.Rand.IntN(len(alts))]), true
}

func commonPercent(in Input, attempt int) (simulate.Value, bool) {
	alts := alternatives(in.Correct.Percent, nil)
	return simulate.Percent(alts[in.Rand.IntN(len(alts))]), true
}

// windowMonths offers the look-back period, a classic confusion with the
// required duration.
func windowMonths(in Input, attempt int) (simulate.Value, bool) {
	if attempt == 0 && in.Rule.WindowMonths > 0 {
		return simulate.Months(in.Rule.WindowMonths), true
	}
	return otherMonths(in, attempt)
}

func otherMonths(in Input, attempt int) (simulate.Value, bool) {
	return simulate.Months(commonMonths[in.Rand.IntN(len(commonMonths))]), true
}
