package distractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxbench/internal/money"
	"taxbench/internal/profile"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
)

var charitable = rules.Rule{
	Section: "170", Subsection: "(b)(1)(A)", Citation: "I.R.C. § 170(b)(1)(A)",
	Type: rules.PercentageLimit, Percent: 6000,
}.Bind(rules.Operands{Subject: "contribution", Base: "agi"})

func assertDistinct(t *testing.T, correct string, ds []string) {
	t.Helper()
	require.Len(t, ds, 3)
	seen := map[string]bool{correct: true}
	for _, d := range ds {
		assert.False(t, seen[d], "duplicate choice %q among %v (correct %q)", d, ds, correct)
		seen[d] = true
	}
}

func TestCharitableDistractors(t *testing.T) {
	p := profile.New("170", "single", 2024, map[string]int64{"agi": 120000, "contribution": 90000}, nil)
	env := simulate.ProfileEnv(p)
	res, err := simulate.EvaluateWith(charitable, env)
	require.NoError(t, err)

	ds, err := Synthesize(Input{Correct: res.Value, Rule: charitable, Env: env, Rand: profile.Rand(1), Percents: []money.BasisPoints{3000, 5000}})
	require.NoError(t, err)
	assertDistinct(t, "$72,000", ds)

	again, err := Synthesize(Input{Correct: res.Value, Rule: charitable, Env: env, Rand: profile.Rand(1), Percents: []money.BasisPoints{3000, 5000}})
	require.NoError(t, err)
	assert.Equal(t, ds, again)
}

func TestDistractorsAcrossProfiles(t *testing.T) {
	spec := profile.TemplateSpec{
		Name: "170",
		Fields: []profile.FieldSpec{
			{Name: "agi", Unit: profile.Dollars, Min: 20000, Max: 500000, Step: 1000},
			{Name: "contribution", Unit: profile.Dollars, Min: 1000, Max: 400000, Step: 500},
		},
	}
	excess := rules.Rule{Section: "357", Subsection: "(c)(1)", Citation: "I.R.C. § 357(c)(1)", Type: rules.Threshold, Op: rules.OpExcess}.
		Bind(rules.Operands{Subject: "contribution", Base: "agi"})

	for seed := uint64(0); seed < 200; seed++ {
		p, err := profile.Sample(spec, seed, 0)
		require.NoError(t, err)
		env := simulate.ProfileEnv(p)
		for _, r := range []rules.Rule{charitable, excess} {
			res, err := simulate.EvaluateWith(r, env)
			require.NoError(t, err)
			ds, err := Synthesize(Input{Correct: res.Value, Rule: r, Env: env, Rand: profile.Rand(seed)})
			require.NoError(t, err, "seed %d rule %s", seed, r.ID())
			assertDistinct(t, res.Value.Render(), ds)

			choices, idx := Arrange(res.Value.Render(), ds, profile.Rand(seed))
			require.Len(t, choices, 4)
			assert.Equal(t, res.Value.Render(), choices[idx])
		}
	}
}

func TestZeroAnswerDistractors(t *testing.T) {
	env := simulate.NewOverlay(nil)
	env.Set("basis", simulate.Amount(money.Dollars(20000)))
	env.Set("liability", simulate.Amount(money.Dollars(50000)))
	env.Set("357(c)(1)", simulate.Amount(money.Dollars(30000)))
	basis := rules.Rule{Section: "358", Subsection: "(a)(1)", Citation: "I.R.C. § 358(a)(1)", Type: rules.CrossReference, Targets: []string{"351"}}.
		Bind(rules.Operands{Subject: "basis", Minus: []string{"liability"}, Plus: []string{"357(c)(1)"}, FloorZero: true})

	res, err := simulate.EvaluateWith(basis, env)
	require.NoError(t, err)
	require.Equal(t, "$0", res.Value.Render())

	ds, err := Synthesize(Input{Correct: res.Value, Rule: basis, Env: env, Rand: profile.Rand(9)})
	require.NoError(t, err)
	assertDistinct(t, "$0", ds)
	// Reversed adjustments: 20,000 + 50,000 - 30,000.
	assert.Equal(t, "$40,000", ds[0])
}

func TestRecallDistractors(t *testing.T) {
	r := rules.Rule{Section: "121", Subsection: "(a)", Type: rules.TimeRule, Months: 24, WindowMonths: 60}
	ds, err := Synthesize(Input{Correct: simulate.Months(24), Rule: r, Rand: profile.Rand(3)})
	require.NoError(t, err)
	assertDistinct(t, "2 years", ds)
	assert.Equal(t, "5 years", ds[0])

	pct := rules.Rule{Section: "170", Type: rules.PercentageLimit, Percent: 6000}
	ds, err = Synthesize(Input{Correct: simulate.Percent(6000), Rule: pct, Rand: profile.Rand(3), Percents: []money.BasisPoints{3000, 5000}})
	require.NoError(t, err)
	assertDistinct(t, "60%", ds)

	amt := rules.Rule{Section: "121", Subsection: "(b)(1)", Type: rules.Threshold, Amount: money.Dollars(250000), Op: rules.OpCap}
	ds, err = Synthesize(Input{Correct: simulate.Amount(amt.Amount), Rule: amt, Rand: profile.Rand(3), Amounts: []money.Cents{money.Dollars(250000), money.Dollars(500000)}})
	require.NoError(t, err)
	assertDistinct(t, "$250,000", ds)
	assert.Equal(t, "$500,000", ds[0])
}

func TestBooleanAnswersCollide(t *testing.T) {
	_, err := Synthesize(Input{Correct: simulate.Bool(true), Rule: charitable, Env: simulate.NewOverlay(nil), Rand: profile.Rand(1)})
	assert.True(t, errors.Is(err, ErrCollision))
}

func TestTerms(t *testing.T) {
	got, err := Terms("capital asset", []string{"capital asset", "principal residence", "qualified business income", "contribution base", "principal residence"}, profile.Rand(4))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"principal residence", "qualified business income", "contribution base"}, got)

	_, err = Terms("capital asset", []string{"principal residence"}, profile.Rand(4))
	assert.ErrorIs(t, err, ErrCollision)
}
