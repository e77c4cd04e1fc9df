// Package simulate computes the correct value of a rule bound to a profile.
package simulate

import (
	"fmt"
	"strings"

	"taxbench/internal/money"
	"taxbench/internal/profile"
)

// Kind tags the payload of a Value.
type Kind int

const (
	KindAmount Kind = iota
	KindBool
	KindPercent
	KindMonths
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindPercent:
		return "percent"
	case KindMonths:
		return "months"
	default:
		return "amount"
	}
}

// Value is a computed result. Amounts are exact cents.
type Value struct {
	Kind    Kind
	Amount  money.Cents
	Bool    bool
	Percent money.BasisPoints
	Months  int
}

func Amount(c money.Cents) Value { return Value{Kind: KindAmount, Amount: c} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func Percent(bp money.BasisPoints) Value { return Value{Kind: KindPercent, Percent: bp} }
func Months(m int) Value { return Value{Kind: KindMonths, Months: m} }

// Render is the answer-choice form of v. Amounts render as rounded dollars.
func (v Value) Render() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "Yes"
		}
		return "No"
	case KindPercent:
		return v.Percent.String()
	case KindMonths:
		if v.Months%12 == 0 && v.Months >= 24 {
			return fmt.Sprintf("%d years", v.Months/12)
		}
		return fmt.Sprintf("%d months", v.Months)
	default:
		return v.Amount.RoundDollar().String()
	}
}

func (v Value) String() string { return v.Render() }

// Env resolves operand names to values.
type Env interface {
	Lookup(name string) (Value, bool)
}

type profileEnv struct {
	p profile.Profile
}

// ProfileEnv exposes a profile's fields as operands.
func ProfileEnv(p profile.Profile) Env {
	return profileEnv{p: p}
}

func (e profileEnv) Lookup(name string) (Value, bool) {
	if c, ok := e.p.Amount(name); ok {
		return Amount(c), true
	}
	if m, ok := e.p.Months(name); ok {
		return Months(m), true
	}
	return Value{}, false
}

// Overlay layers computed values over a base environment.
type Overlay struct {
	base   Env
	values map[string]Value
}

// NewOverlay returns an empty overlay on base. base may be nil.
func NewOverlay(base Env) *Overlay {
	return &Overlay{base: base, values: make(map[string]Value)}
}

// Set records name as v, shadowing the base.
func (o *Overlay) Set(name string, v Value) {
	o.values[name] = v
}

func (o *Overlay) Lookup(name string) (Value, bool) {
	if v, ok := o.values[name]; ok {
		return v, true
	}
	if o.base == nil {
		return Value{}, false
	}
	return o.base.Lookup(name)
}

// Label is the narrative name of an operand. Chain member ids read as the
// amount determined under that provision.
func Label(name string) string {
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		return "amount under § " + name
	}
	return strings.ReplaceAll(name, "_", " ")
}
