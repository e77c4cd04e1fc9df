package profile

import (
	"errors"
	"fmt"
)

// DefaultRetries bounds how many times Sample redraws a profile that
// violates a hard precondition.
const DefaultRetries = 10

// FieldSpec declares the sampling distribution of one numeric field.
// Min, Max and Step are whole dollars for Dollars fields and months for
// Months fields. Choices, when set, replaces the range with a categorical set.
type FieldSpec struct {
	Name    string
	Unit    Unit
	Min     int64
	Max     int64
	Step    int64
	Choices []int64
}

// bounds is the field's drawable range. A categorical field spans its
// choices.
func (f FieldSpec) bounds() (lo, hi int64) {
	if len(f.Choices) == 0 {
		return f.Min, f.Max
	}
	lo, hi = f.Choices[0], f.Choices[0]
	for _, c := range f.Choices[1:] {
		lo, hi = min(lo, c), max(hi, c)
	}
	return lo, hi
}

// Comparison is the relation a precondition requires.
type Comparison int

const (
	GreaterEq Comparison = iota
	Greater
	LessEq
	Less
)

func (c Comparison) String() string {
	switch c {
	case Greater:
		return ">"
	case LessEq:
		return "<="
	case Less:
		return "<"
	default:
		return ">="
	}
}

func (c Comparison) holds(a, b int64) bool {
	switch c {
	case Greater:
		return a > b
	case LessEq:
		return a <= b
	case Less:
		return a < b
	default:
		return a >= b
	}
}

// Precondition is a hard cross-field constraint. Field is compared against
// Other when Other is set, otherwise against Value (same unit as Field).
type Precondition struct {
	Field string
	Cmp   Comparison
	Other string
	Value int64
}

func (c Precondition) String() string {
	rhs := c.Other
	if rhs == "" {
		rhs = fmt.Sprint(c.Value)
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Cmp, rhs)
}

// Boundary steers a field across another to exercise a boundary case:
// with probability P the field is drawn strictly above Other, otherwise at
// or below it.
type Boundary struct {
	Field string
	Other string
	P     float64
}

// TemplateSpec declares every field a template consumes.
type TemplateSpec struct {
	Name           string
	Fields         []FieldSpec
	Preconditions  []Precondition
	Boundaries     []Boundary
	FilingStatuses []string
	TaxYears       []int
}

// Validate checks the spec is internally consistent.
func (s TemplateSpec) Validate() error {
	if s.Name == "" {
		return errors.New("template spec has no name")
	}
	fields := make(map[string]FieldSpec, len(s.Fields))
	position := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		position[f.Name] = i
		if f.Name == "" {
			return fmt.Errorf("template %s: field without name", s.Name)
		}
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("template %s: duplicate field %s", s.Name, f.Name)
		}
		if len(f.Choices) == 0 && f.Max < f.Min {
			return fmt.Errorf("template %s: field %s has empty range", s.Name, f.Name)
		}
		fields[f.Name] = f
	}
	for _, b := range s.Boundaries {
		fa, ok := fields[b.Field]
		fb, ok2 := fields[b.Other]
		if !ok || !ok2 {
			return fmt.Errorf("template %s: boundary %s/%s names unknown field", s.Name, b.Field, b.Other)
		}
		if position[b.Other] > position[b.Field] {
			return fmt.Errorf("template %s: boundary field %s declared before %s", s.Name, b.Field, b.Other)
		}
		if fa.Unit != fb.Unit {
			return fmt.Errorf("template %s: boundary %s/%s mixes units", s.Name, b.Field, b.Other)
		}
		if b.P < 0 || b.P > 1 {
			return fmt.Errorf("template %s: boundary probability %v", s.Name, b.P)
		}
	}
	for _, c := range s.Preconditions {
		if _, ok := fields[c.Field]; !ok {
			return fmt.Errorf("template %s: precondition on unknown field %s", s.Name, c.Field)
		}
		if c.Other != "" {
			if _, ok := fields[c.Other]; !ok {
				return fmt.Errorf("template %s: precondition on unknown field %s", s.Name, c.Other)
			}
		}
	}
	return nil
}

// TemplateBindingError reports a template whose preconditions could not be
// satisfied within the retry budget.
type TemplateBindingError struct {
	Template string
	Attempts int
	Reason   string
}

func (e *TemplateBindingError) Error() string {
	return fmt.Sprintf("template %s: no valid profile after %d attempts: %s", e.Template, e.Attempts, e.Reason)
}
