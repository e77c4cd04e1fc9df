// Package profile samples taxpayer profiles from template specifications.
package profile

import (
	"encoding/json"
	"fmt"
	"sort"

	"taxbench/internal/money"
)

// Unit is the unit a profile field is sampled in.
type Unit int

const (
	Dollars Unit = iota
	Months
)

func (u Unit) String() string {
	if u == Months {
		return "months"
	}
	return "dollars"
}

// Profile is one sampled taxpayer. Profiles are never mutated after Sample
// returns them; a retry samples a fresh one.
type Profile struct {
	id           string
	template     string
	filingStatus string
	taxYear      int
	seed         uint64
	values       map[string]int64
	units        map[string]Unit
}

// ID is the content-derived profile id.
func (p Profile) ID() string { return p.id }

// Template names the spec the profile was sampled from.
func (p Profile) Template() string { return p.template }

func (p Profile) FilingStatus() string { return p.filingStatus }
func (p Profile) TaxYear() int { return p.taxYear }
func (p Profile) Seed() uint64 { return p.seed }

// Has reports whether the profile carries field name.
func (p Profile) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Amount returns a dollar field in cents.
func (p Profile) Amount(name string) (money.Cents, bool) {
	v, ok := p.values[name]
	if !ok || p.units[name] != Dollars {
		return 0, false
	}
	return money.Cents(v), true
}

// Months returns a duration field.
func (p Profile) Months(name string) (int, bool) {
	v, ok := p.values[name]
	if !ok || p.units[name] != Months {
		return 0, false
	}
	return int(v), true
}

// Unit returns the unit of field name.
func (p Profile) Unit(name string) (Unit, bool) {
	u, ok := p.units[name]
	return u, ok
}

// Fields lists field names in sorted order.
func (p Profile) Fields() []string {
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Describe renders a field for narrative text: "$72,000" or "26 months".
func (p Profile) Describe(name string) string {
	v, ok := p.values[name]
	if !ok {
		return ""
	}
	if p.units[name] == Months {
		return fmt.Sprintf("%d months", v)
	}
	return money.Cents(v).String()
}

type profileJSON struct {
	ID           string           `json:"id"`
	Template     string           `json:"template"`
	FilingStatus string           `json:"filing_status"`
	TaxYear      int              `json:"tax_year"`
	Fields       map[string]int64 `json:"fields"`
}

// MarshalJSON renders dollar fields in whole dollars and durations in months.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := profileJSON{
		ID:           p.id,
		Template:     p.template,
		FilingStatus: p.filingStatus,
		TaxYear:      p.taxYear,
		Fields:       make(map[string]int64, len(p.values)),
	}
	for k, v := range p.values {
		if p.units[k] == Dollars {
			v = money.Cents(v).WholeDollars()
		}
		out.Fields[k] = v
	}
	return json.Marshal(out)
}

// New builds a profile directly from whole-dollar and month values. It is
// used by callers that replay a known scenario.
func New(template, filingStatus string, taxYear int, dollars map[string]int64, months map[string]int) Profile {
	p := Profile{
		template:     template,
		filingStatus: filingStatus,
		taxYear:      taxYear,
		values:       make(map[string]int64),
		units:        make(map[string]Unit),
	}
	for k, v := range dollars {
		p.values[k] = int64(money.Dollars(v))
		p.units[k] = Dollars
	}
	for k, v := range months {
		p.values[k] = int64(v)
		p.units[k] = Months
	}
	p.id = contentID(p)
	return p
}
