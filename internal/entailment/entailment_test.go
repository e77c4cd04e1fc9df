package entailment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxbench/internal/logic"
	"taxbench/internal/mangle"
	"taxbench/internal/money"
	"taxbench/internal/profile"
	"taxbench/internal/rules"
)

var residence = rules.Rule{
	Section: "121", Subsection: "(a)", Citation: "I.R.C. § 121(a)", Type: rules.TimeRule,
	Months: 24, WindowMonths: 60,
	Trigger: "during the 5-year period ending on the date of the sale or exchange, such property has been owned and used by the taxpayer as the taxpayer's principal residence",
}.Bind(rules.Operands{Subject: "residence_months"})

var recognized = rules.Rule{
	Section: "357", Subsection: "(c)(1)", Citation: "I.R.C. § 357(c)(1)", Type: rules.Threshold, Op: rules.OpExcess,
	Trigger: "the sum of the amount of the liabilities assumed exceeds the total of the adjusted basis",
}.Bind(rules.Operands{Subject: "liability", Base: "basis"})

func engine(t *testing.T) logic.Evaluator {
	t.Helper()
	e, err := mangle.NewEngine()
	require.NoError(t, err)
	return e
}

func TestResidenceCase(t *testing.T) {
	ev := engine(t)
	tests := []struct {
		months int
		want   logic.Verdict
	}{
		{26, logic.Entailed()},
		{20, logic.Contradicted()},
	}
	for _, tt := range tests {
		p := profile.New("121_residence", "single", 2024, nil, map[string]int{"residence_months": tt.months})
		pat, err := Generate(residence, p)
		require.NoError(t, err)
		assert.Equal(t, ResidenceTest, pat.Predicate)
		assert.Equal(t, "meets_residence_test(/s121_a)", pat.Query)
		assert.Equal(t, tt.want, pat.Expected)
		assert.Contains(t, pat.Scenario, "60-month period")

		got, err := Ask(context.Background(), pat, ev)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRecognizedGainCase(t *testing.T) {
	p := profile.New("357c", "single", 2024, map[string]int64{"liability": 50000, "basis": 20000}, nil)
	pat, err := Generate(recognized, p)
	require.NoError(t, err)
	assert.Equal(t, RecognizedGain, pat.Predicate)
	assert.Equal(t, logic.Number(30000), pat.Expected)
	assert.Contains(t, pat.Facts, "liability_dollars(/s357_c_1, 50000).")
	assert.Contains(t, pat.Scenario, "$20,000")

	got, err := Ask(context.Background(), pat, engine(t))
	require.NoError(t, err)
	assert.Equal(t, logic.Number(30000), got)
}

func TestGenericDuration(t *testing.T) {
	stepUp := rules.Rule{Section: "1400Z-2", Subsection: "(b)(2)(B)(iv)", Citation: "I.R.C. § 1400Z-2(b)(2)(B)(iv)", Type: rules.TimeRule, Months: 84, Trigger: "held for at least 7 years"}.
		Bind(rules.Operands{Subject: "months_held"})
	p := profile.New("oz", "single", 2024, nil, map[string]int{"months_held": 90})

	pat, err := Generate(stepUp, p)
	require.NoError(t, err)
	assert.Equal(t, DurationTest, pat.Predicate)
	assert.Equal(t, "/s1400z_2_b_2_b_iv", Entity(stepUp))

	got, err := Ask(context.Background(), pat, engine(t))
	require.NoError(t, err)
	assert.Equal(t, logic.Entailed(), got)
}

func TestThresholdPredicates(t *testing.T) {
	capRule := rules.Rule{Section: "121", Subsection: "(b)(1)", Type: rules.Threshold, Amount: money.Dollars(250000), Op: rules.OpExcess}.
		Bind(rules.Operands{Subject: "gain"})
	p := profile.New("t", "single", 2024, map[string]int64{"gain": 310000}, nil)
	pat, err := Generate(capRule, p)
	require.NoError(t, err)
	assert.Equal(t, ExcessThreshold, pat.Predicate)
	got, err := Ask(context.Background(), pat, engine(t))
	require.NoError(t, err)
	assert.Equal(t, logic.Number(60000), got)
}

func TestUnsupportedRules(t *testing.T) {
	_, err := SelectPredicate(rules.Rule{Section: "1221", Type: rules.Definition, Meaning: "property"})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = SelectPredicate(rules.Rule{Section: "121", Type: rules.TimeRule, Months: 24})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAskDropsUnknownAndDisagreement(t *testing.T) {
	pat := Pattern{Query: "meets_duration(/x)", Expected: logic.Entailed()}

	unknown := logic.EvaluatorFunc(func(context.Context, []string, string) (logic.Verdict, error) {
		return logic.Undetermined(), nil
	})
	_, err := Ask(context.Background(), pat, unknown)
	assert.True(t, errors.Is(err, ErrUndetermined))

	contra := logic.EvaluatorFunc(func(context.Context, []string, string) (logic.Verdict, error) {
		return logic.Contradicted(), nil
	})
	_, err = Ask(context.Background(), pat, contra)
	assert.ErrorIs(t, err, ErrDisagreement)

	broken := logic.EvaluatorFunc(func(context.Context, []string, string) (logic.Verdict, error) {
		return logic.Verdict{}, &logic.InterpreterError{Backend: "fake", Err: logic.ErrTransient}
	})
	_, err = Ask(context.Background(), pat, broken)
	var ie *logic.InterpreterError
	assert.ErrorAs(t, err, &ie)
}
