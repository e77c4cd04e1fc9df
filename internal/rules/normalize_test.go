package rules

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"taxbench/internal/logging"
	"taxbench/internal/money"
)

func TestNormalizeClassification(t *testing.T) {
	tests := []struct {
		name string
		frag Fragment
		want func(t *testing.T, r Rule)
	}{
		{
			name: "percentage limit",
			frag: Fragment{SectionID: "170", Subsection: "(b)(1)(A)", Text: "Any charitable contribution to an organization described in this subparagraph shall be allowed to the extent that the aggregate of such contributions does not exceed 60 percent of the taxpayer's contribution base for such year."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, PercentageLimit, r.Type)
				assert.Equal(t, money.BasisPoints(6000), r.Percent)
				assert.Equal(t, "I.R.C. § 170(b)(1)(A)", r.Citation)
			},
		},
		{
			name: "dollar cap",
			frag: Fragment{SectionID: "121", Subsection: "(b)(1)", Text: "The amount of gain excluded from gross income under subsection (a) with respect to any sale or exchange shall not exceed $250,000."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, Threshold, r.Type)
				assert.Equal(t, money.Dollars(250000), r.Amount)
				assert.Equal(t, OpCap, r.Op)
			},
		},
		{
			name: "duration with look-back window",
			frag: Fragment{SectionID: "121", Subsection: "(a)", Text: "Gross income shall not include gain from the sale or exchange of property if, during the 5-year period ending on the date of the sale or exchange, such property has been owned and used by the taxpayer as the taxpayer's principal residence for periods aggregating 2 years or more."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, TimeRule, r.Type)
				assert.Equal(t, 24, r.Months)
				assert.Equal(t, 60, r.WindowMonths)
			},
		},
		{
			name: "comparison without amount",
			frag: Fragment{SectionID: "357", Subsection: "(c)(1)", Text: "In the case of an exchange to which section 351 applies, if the sum of the amount of the liabilities assumed exceeds the total of the adjusted basis of the property transferred pursuant to such exchange, then such excess shall be considered as a gain from the sale or exchange of a capital asset."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, Threshold, r.Type)
				assert.Equal(t, OpExcess, r.Op)
				assert.Zero(t, r.Amount)
				assert.Equal(t, []string{"351"}, r.Targets)
			},
		},
		{
			name: "exception",
			frag: Fragment{SectionID: "351", Subsection: "(a)", Text: "Except as provided in section 357(c), no gain or loss shall be recognized if property is transferred to a corporation by one or more persons solely in exchange for stock in such corporation."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, Exception, r.Type)
				assert.Equal(t, "as provided in section 357(c)", r.Trigger)
				assert.Equal(t, []string{"357(c)"}, r.Targets)
			},
		},
		{
			name: "definition",
			frag: Fragment{SectionID: "1221", Subsection: "(a)", Text: "For purposes of this subtitle, the term “capital asset” means property held by the taxpayer, whether or not connected with his trade or business."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, Definition, r.Type)
				assert.Equal(t, "capital asset", r.Term)
				assert.Equal(t, "property held by the taxpayer, whether or not connected with his trade or business", r.Meaning)
			},
		},
		{
			name: "cross reference",
			frag: Fragment{SectionID: "358", Subsection: "(a)(1)", Text: "In the case of an exchange to which section 351 applies, the basis of the property permitted to be received without the recognition of gain shall be the same as that of the property exchanged, decreased by the amount of money received, and increased by the amount of gain recognized on such exchange."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, CrossReference, r.Type)
				assert.Equal(t, []string{"351"}, r.Targets)
			},
		},
		{
			name: "percentage keeps holding period",
			frag: Fragment{SectionID: "1400Z-2", Subsection: "(b)(2)(B)(iii)", Text: "In the case of any investment held for at least 5 years, the basis of such investment shall be increased by an amount equal to 10 percent of the amount of gain deferred."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, PercentageLimit, r.Type)
				assert.Equal(t, money.BasisPoints(1000), r.Percent)
				assert.Equal(t, 60, r.Months)
			},
		},
		{
			name: "citation prefix stripped",
			frag: Fragment{SectionID: "199A", Subsection: "(a)", Text: "I.R.C. § 199A(a) —   an amount equal to 20 percent of the qualified business income."},
			want: func(t *testing.T, r Rule) {
				assert.Equal(t, PercentageLimit, r.Type)
				assert.Equal(t, "an amount equal to 20 percent of the qualified business income.", r.Text)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Normalize(tt.frag)
			require.NoError(t, err)
			require.NoError(t, r.Validate())
			tt.want(t, r)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		frag Fragment
	}{
		{"missing section", Fragment{Text: "shall not exceed $100."}},
		{"no numeric or conditional token", Fragment{SectionID: "7805", Text: "The Secretary shall prescribe all needful rules and regulations."}},
		{"percentage over one hundred", Fragment{SectionID: "1", Text: "a rate equal to 150 percent of the amount."}},
		{"nothing classifiable", Fragment{SectionID: "1", Text: "This section applies to taxable years beginning in 2018."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.frag)
			require.Error(t, err)
			var ee *ExtractionError
			assert.True(t, errors.As(err, &ee))
		})
	}
}

func TestBuildSkipsBadFragments(t *testing.T) {
	lib, errs := Build([]Fragment{
		{SectionID: "121", Subsection: "(b)(1)", Text: "shall not exceed $250,000."},
		{SectionID: "7805", Text: "The Secretary shall prescribe regulations."},
		{SectionID: "170", Subsection: "(b)(1)(B)", Text: "does not exceed 30 percent of the contribution base."},
		{SectionID: "121", Subsection: "(b)(1)", Text: "shall not exceed $500,000."},
	})

	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[1], ErrDuplicateRule)
	assert.Equal(t, 2, lib.Len())
	assert.Equal(t, []string{"121", "170"}, lib.Sections())

	r, ok := lib.Get("121(b)(1)")
	require.True(t, ok)
	assert.Equal(t, money.Dollars(250000), r.Amount)
	assert.Len(t, lib.OfType(PercentageLimit), 1)
}

func TestBindReturnsCopy(t *testing.T) {
	r := Rule{Section: "1", Type: CrossReference, Targets: []string{"2"}}
	bound := r.Bind(Operands{Subject: "basis", Plus: []string{"gain"}})
	bound.Targets[0] = "3"
	bound.Operands.Plus[0] = "loss"

	assert.Equal(t, "2", r.Targets[0])
	assert.True(t, r.Recall())
	assert.False(t, bound.Recall())

	dep := bound.WithDependsOn("357(c)(1)", "357(c)(1)")
	assert.Equal(t, []string{"357(c)(1)"}, dep.DependsOn)
	assert.Empty(t, bound.DependsOn)
}

func TestTypeText(t *testing.T) {
	for _, typ := range []Type{PercentageLimit, Threshold, TimeRule, Exception, Definition, CrossReference} {
		b, err := typ.MarshalText()
		require.NoError(t, err)
		var back Type
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, typ, back)
	}
	var bad Type
	assert.Error(t, bad.UnmarshalText([]byte("unknown")))
}

func TestZeroPercentIsValid(t *testing.T) {
	r, err := Normalize(Fragment{SectionID: "1", Subsection: "(h)(1)(B)", Text: "a rate of 0 percent of so much of the adjusted net capital gain."})
	require.NoError(t, err)
	assert.Equal(t, PercentageLimit, r.Type)
	assert.Equal(t, money.BasisPoints(0), r.Percent)
	require.NoError(t, r.Validate())

	r.Percent = -1
	assert.Error(t, r.Validate())
}

func TestLibraryOrderAtScale(t *testing.T) {
	const n = 20000
	frags := make([]Fragment, 0, n)
	for i := n; i > 0; i-- {
		frags = append(frags, Fragment{SectionID: fmt.Sprint(i), Subsection: "(a)", Text: "does not exceed 50 percent of the amount."})
	}
	lib, errs := Build(frags)
	require.Empty(t, errs)
	require.Equal(t, n, lib.Len())

	ids := make([]string, 0, n)
	for _, r := range lib.All() {
		ids = append(ids, r.ID())
	}
	assert.True(t, sort.StringsAreSorted(ids))
	assert.Len(t, lib.OfType(PercentageLimit), n)
}

func BenchmarkBuild(b *testing.B) {
	frags := make([]Fragment, 0, 5000)
	for i := 0; i < 5000; i++ {
		frags = append(frags, Fragment{SectionID: fmt.Sprint(i * 7919 % 5000), Subsection: "(a)", Text: "does not exceed 50 percent of the amount."})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Build(frags)
	}
}

func TestBuildLogsSummary(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logging.SetBase(zap.New(core))
	t.Cleanup(func() { logging.SetBase(nil) })

	_, errs := Build([]Fragment{
		{SectionID: "170", Subsection: "(b)(1)(A)", Text: "does not exceed 50 percent of the contribution base."},
		{SectionID: "170", Subsection: "(z)", Text: "Reserved."},
	})
	require.Len(t, errs, 1)
	got := logs.FilterField(zap.String("category", "rules")).All()
	require.Len(t, got, 1)
	assert.Equal(t, "normalized 1 of 2 fragments", got[0].Message)
}
