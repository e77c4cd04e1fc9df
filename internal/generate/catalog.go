package generate

import (
	"fmt"
	"slices"
	"strings"

	"taxbench/internal/profile"
	"taxbench/internal/question"
	"taxbench/internal/rules"
)

// Binding binds one library rule into a template.
type Binding struct {
	ID  string
	Ops rules.Operands
}

// Template is a parametric scenario over a rule or a rule chain.
type Template struct {
	Name string
	// Type is the question type; empty for entailment templates.
	Type       question.Type
	Entailment bool
	Bindings   []Binding
	// Aggregate, when set, is a combining step appended after the bound
	// rules; it is the template's target.
	Aggregate *rules.Rule
	// Target is the member whose value is asked for. Empty means the last
	// member in evaluation order.
	Target  string
	Spec    profile.TemplateSpec
	Narrate func(p profile.Profile) string
	// Ask is a format string taking the target citation.
	Ask string
}

// Sections lists the sections a template draws on.
func (t Template) Sections() []string {
	var out []string
	for _, b := range t.Bindings {
		s := sectionOf(b.ID)
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Members resolves the bindings against lib, in declared order.
func (t Template) Members(lib *rules.Library) ([]rules.Rule, error) {
	members := make([]rules.Rule, 0, len(t.Bindings)+1)
	for _, b := range t.Bindings {
		r, ok := lib.Get(b.ID)
		if !ok {
			return nil, fmt.Errorf("template %s: rule %s: %w", t.Name, b.ID, ErrMissingRule)
		}
		members = append(members, r.Bind(b.Ops))
	}
	if t.Aggregate != nil {
		members = append(members, *t.Aggregate)
	}
	return members, nil
}

// sectionOf strips the subsection path from a rule id: "357(c)(1)" -> "357".
func sectionOf(id string) string {
	for i, r := range id {
		if r == '(' {
			return id[:i]
		}
	}
	return id
}

var (
	taxYears       = []int{2022, 2023, 2024}
	filingStatuses = []string{"single", "married filing jointly", "married filing separately", "head of household"}
)

func dollars(p profile.Profile, field string) string {
	c, _ := p.Amount(field)
	return c.RoundDollar().String()
}

func months(p profile.Profile, field string) int {
	m, _ := p.Months(field)
	return m
}

// Catalog returns the built-in templates, sorted by name.
func Catalog() []Template {
	transferFields := []profile.FieldSpec{
		{Name: "basis", Unit: profile.Dollars, Min: 1000, Max: 500000, Step: 500},
		{Name: "liability", Unit: profile.Dollars, Min: 0, Max: 500000, Step: 500},
		{Name: "fair_market_value", Unit: profile.Dollars, Min: 5000, Max: 1000000, Step: 1000},
	}
	transferBoundaries := []profile.Boundary{{Field: "liability", Other: "basis", P: 0.5}}
	transferNarrative := func(p profile.Profile) string {
		return fmt.Sprintf("In %d, a taxpayer transfers property with an adjusted basis of %s and a fair market value of %s to a corporation solely in exchange for its stock, in an exchange to which section 351 applies. The corporation assumes %s of the taxpayer's liabilities.",
			p.TaxYear(), dollars(p, "basis"), dollars(p, "fair_market_value"), dollars(p, "liability"))
	}
	transferException := Binding{ID: "351(a)", Ops: rules.Operands{Subject: "liability", Base: "basis"}}
	transferGain := Binding{ID: "357(c)(1)", Ops: rules.Operands{Subject: "liability", Base: "basis", Guard: "351(a)"}}

	residenceFields := []profile.FieldSpec{
		{Name: "amount_realized", Unit: profile.Dollars, Min: 150000, Max: 1500000, Step: 5000},
		{Name: "adjusted_basis", Unit: profile.Dollars, Min: 50000, Max: 900000, Step: 5000},
		{Name: "residence_months", Unit: profile.Months, Min: 0, Max: 60, Step: 1},
	}
	residenceGain := []profile.Precondition{{Field: "amount_realized", Cmp: profile.Greater, Other: "adjusted_basis"}}
	realized := Binding{ID: "1001(a)", Ops: rules.Operands{Subject: "amount_realized", Base: "adjusted_basis"}}
	useTest := Binding{ID: "121(a)", Ops: rules.Operands{Subject: "residence_months"}}

	stepUp := rules.Rule{
		Section:    "1400Z-2",
		Subsection: "(b)(2)(B)",
		Citation:   "I.R.C. § 1400Z-2(b)(2)(B)",
		Type:       rules.CrossReference,
		Targets:    []string{"1400Z-2(b)(2)(B)(iii)", "1400Z-2(b)(2)(B)(iv)"},
		Text:       "the basis increases under clauses (iii) and (iv) together",
	}.Bind(rules.Operands{Subject: "1400Z-2(b)(2)(B)(iii)", Plus: []string{"1400Z-2(b)(2)(B)(iv)"}})

	catalog := []Template{
		{
			Name:     "charitable_cash_limit",
			Type:     question.Computation,
			Bindings: []Binding{{ID: "170(b)(1)(A)", Ops: rules.Operands{Subject: "contribution", Base: "contribution_base"}}},
			Spec: profile.TemplateSpec{
				Fields: []profile.FieldSpec{
					{Name: "contribution_base", Unit: profile.Dollars, Min: 20000, Max: 500000, Step: 1000},
					{Name: "contribution", Unit: profile.Dollars, Min: 1000, Max: 400000, Step: 500},
				},
				Preconditions:  []profile.Precondition{{Field: "contribution_base", Cmp: profile.Greater, Value: 0}},
				FilingStatuses: filingStatuses,
				TaxYears:       taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("A taxpayer filing as %s has a contribution base of %s for %d and gives %s in cash to a public charity during the year.",
					p.FilingStatus(), dollars(p, "contribution_base"), p.TaxYear(), dollars(p, "contribution"))
			},
			Ask: "Under %s, what amount of the contribution is deductible for the year?",
		},
		{
			Name:     "charitable_capital_gain_property",
			Type:     question.Computation,
			Bindings: []Binding{{ID: "170(b)(1)(B)", Ops: rules.Operands{Subject: "contribution", Base: "contribution_base"}}},
			Spec: profile.TemplateSpec{
				Fields: []profile.FieldSpec{
					{Name: "contribution_base", Unit: profile.Dollars, Min: 20000, Max: 500000, Step: 1000},
					{Name: "contribution", Unit: profile.Dollars, Min: 1000, Max: 300000, Step: 500},
				},
				Preconditions:  []profile.Precondition{{Field: "contribution_base", Cmp: profile.Greater, Value: 0}},
				FilingStatuses: filingStatuses,
				TaxYears:       taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("A taxpayer with a contribution base of %s for %d donates capital gain property worth %s to a qualifying organization.",
					dollars(p, "contribution_base"), p.TaxYear(), dollars(p, "contribution"))
			},
			Ask: "What deduction does %s allow for the donation this year?",
		},
		{
			Name:     "qualified_business_income_deduction",
			Type:     question.Computation,
			Bindings: []Binding{{ID: "199A(a)", Ops: rules.Operands{Base: "qualified_business_income"}}},
			Spec: profile.TemplateSpec{
				Fields: []profile.FieldSpec{
					{Name: "qualified_business_income", Unit: profile.Dollars, Min: 5000, Max: 900000, Step: 250},
				},
				FilingStatuses: filingStatuses,
				TaxYears:       taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("A sole proprietor filing as %s reports qualified business income of %s for %d.",
					p.FilingStatus(), dollars(p, "qualified_business_income"), p.TaxYear())
			},
			Ask: "What deduction is allowed under %s?",
		},
		{
			Name: "residence_gain_exclusion",
			Type: question.Chain,
			Bindings: []Binding{
				{ID: "121(b)(1)", Ops: rules.Operands{Subject: "1001(a)", Guard: "121(a)"}},
				realized,
				useTest,
			},
			Target: "121(b)(1)",
			Spec: profile.TemplateSpec{
				Fields:         residenceFields,
				Preconditions:  residenceGain,
				FilingStatuses: []string{"single"},
				TaxYears:       taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("An unmarried taxpayer sells a home in %d for %s. The home's adjusted basis is %s. During the 5-year period ending on the date of the sale, the taxpayer owned the home and used it as a principal residence for %d months.",
					p.TaxYear(), dollars(p, "amount_realized"), dollars(p, "adjusted_basis"), months(p, "residence_months"))
			},
			Ask: "How much of the gain on the sale is excluded from gross income under %s?",
		},
		{
			// The stated amount of 121(b)(2)(A) replaces the $250,000 cap.
			Name: "residence_gain_exclusion_joint",
			Type: question.Chain,
			Bindings: []Binding{
				{ID: "121(b)(1)", Ops: rules.Operands{Subject: "1001(a)", Base: "121(b)(2)(A)", Guard: "121(a)"}},
				{ID: "121(b)(2)(A)"},
				realized,
				useTest,
			},
			Target: "121(b)(1)",
			Spec: profile.TemplateSpec{
				Fields:         residenceFields,
				Preconditions:  residenceGain,
				FilingStatuses: []string{"married filing jointly"},
				TaxYears:       taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("A married couple filing a joint return for %d sells their home for %s. The home's adjusted basis is %s. During the 5-year period ending on the date of the sale, the couple owned the home and both spouses used it as their principal residence for %d months.",
					p.TaxYear(), dollars(p, "amount_realized"), dollars(p, "adjusted_basis"), months(p, "residence_months"))
			},
			Ask: "How much of the gain on the sale is excluded from the couple's gross income under %s?",
		},
		{
			Name:     "passive_activity_loss_limit",
			Type:     question.Computation,
			Bindings: []Binding{{ID: "469(a)(1)", Ops: rules.Operands{Subject: "passive_loss", Base: "passive_income"}}},
			Spec: profile.TemplateSpec{
				Fields: []profile.FieldSpec{
					{Name: "wages", Unit: profile.Dollars, Min: 30000, Max: 250000, Step: 1000},
					{Name: "passive_loss", Unit: profile.Dollars, Min: 20000, Max: 50000, Step: 100},
					{Name: "passive_income", Unit: profile.Dollars, Min: 1000, Max: 30000, Step: 100},
				},
				FilingStatuses: filingStatuses,
				TaxYears:       taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("In %d, a taxpayer filing as %s has wages of %s. The taxpayer holds an interest in a passive activity that generated a loss of %s for the year, and has income of %s from another passive activity.",
					p.TaxYear(), p.FilingStatus(), dollars(p, "wages"), dollars(p, "passive_loss"), dollars(p, "passive_income"))
			},
			Ask: "Under %s, how much of the passive activity loss is allowed for the year?",
		},
		{
			Name:     "section_351_recognized_gain",
			Type:     question.Chain,
			Bindings: []Binding{transferGain, transferException},
			Target:   "357(c)(1)",
			Spec: profile.TemplateSpec{
				Fields:     transferFields,
				Boundaries: transferBoundaries,
				TaxYears:   taxYears,
			},
			Narrate: transferNarrative,
			Ask:     "What gain does the taxpayer recognize on the exchange under %s?",
		},
		{
			Name: "section_358_stock_basis",
			Type: question.Chain,
			Bindings: []Binding{
				{ID: "358(a)(1)", Ops: rules.Operands{Subject: "basis", Minus: []string{"liability"}, Plus: []string{"357(c)(1)"}, FloorZero: true}},
				transferGain,
				transferException,
			},
			Spec: profile.TemplateSpec{
				Fields:     transferFields,
				Boundaries: transferBoundaries,
				TaxYears:   taxYears,
			},
			Narrate: transferNarrative,
			Ask:     "Treating the assumed liabilities as money received, what is the taxpayer's basis in the stock received under %s?",
		},
		{
			Name: "opportunity_zone_basis_step_up",
			Type: question.Chain,
			Bindings: []Binding{
				{ID: "1400Z-2(b)(2)(B)(iii)", Ops: rules.Operands{Base: "deferred_gain", Holding: "holding_months"}},
				{ID: "1400Z-2(b)(2)(B)(iv)", Ops: rules.Operands{Base: "deferred_gain", Holding: "holding_months"}},
			},
			Aggregate: &stepUp,
			Spec: profile.TemplateSpec{
				Fields: []profile.FieldSpec{
					{Name: "deferred_gain", Unit: profile.Dollars, Min: 10000, Max: 2000000, Step: 1000},
					{Name: "holding_months", Unit: profile.Months, Choices: []int64{36, 48, 60, 66, 72, 84, 96, 108}},
				},
				TaxYears: taxYears,
			},
			Narrate: func(p profile.Profile) string {
				return fmt.Sprintf("A taxpayer defers %s of capital gain by investing it in a qualified opportunity fund and has held the investment for %d months.",
					dollars(p, "deferred_gain"), months(p, "holding_months"))
			},
			Ask: "What is the total increase in the basis of the investment under %s?",
		},
		{
			Name:       "residence_use_test",
			Entailment: true,
			Bindings:   []Binding{{ID: "121(a)", Ops: rules.Operands{Subject: "residence_months"}}},
			Spec: profile.TemplateSpec{
				Fields: []profile.FieldSpec{
					{Name: "residence_months", Unit: profile.Months, Min: 0, Max: 60, Step: 1},
				},
			},
		},
		{
			Name:       "liabilities_in_excess_of_basis",
			Entailment: true,
			Bindings:   []Binding{{ID: "357(c)(1)", Ops: rules.Operands{Subject: "liability", Base: "basis"}}},
			Spec: profile.TemplateSpec{
				Fields:     transferFields[:2],
				Boundaries: transferBoundaries,
			},
		},
	}
	for i := range catalog {
		catalog[i].Spec.Name = catalog[i].Name
	}
	slices.SortFunc(catalog, func(a, b Template) int { return strings.Compare(a.Name, b.Name) })
	return catalog
}

// Templates returns the catalog plus a duration entailment for every time
// rule in lib that no catalog entailment already covers.
func Templates(lib *rules.Library) []Template {
	out := Catalog()
	covered := make(map[string]bool)
	for _, t := range out {
		if t.Entailment {
			for _, b := range t.Bindings {
				covered[b.ID] = true
			}
		}
	}
	for _, r := range lib.OfType(rules.TimeRule) {
		if covered[r.ID()] {
			continue
		}
		limit := int64(r.Months * 2)
		if r.WindowMonths > 0 {
			limit = int64(r.WindowMonths)
		}
		name := "duration_test_" + r.ID()
		out = append(out, Template{
			Name:       name,
			Entailment: true,
			Bindings:   []Binding{{ID: r.ID(), Ops: rules.Operands{Subject: "holding_period"}}},
			Spec: profile.TemplateSpec{
				Name:   name,
				Fields: []profile.FieldSpec{{Name: "holding_period", Unit: profile.Months, Min: 0, Max: limit, Step: 1}},
			},
		})
	}
	slices.SortFunc(out, func(a, b Template) int { return strings.Compare(a.Name, b.Name) })
	return out
}
