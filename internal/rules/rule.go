// Package rules holds the canonical form of a statutory rule fragment.
//
// A Rule is a closed tagged variant: Type decides which payload fields carry
// meaning (Percent for percentage limits, Amount for thresholds, Months for
// time rules, Term/Meaning for definitions, Targets for cross references).
// Rules are values. Every method that changes one returns a copy, so a Rule
// handed to a worker cannot be altered underneath another worker.
package rules

import (
	"fmt"
	"slices"
	"strings"

	"taxbench/internal/money"
)

// Type classifies a rule fragment.
type Type int

const (
	TypeUnknown Type = iota
	PercentageLimit
	Threshold
	TimeRule
	Exception
	Definition
	CrossReference
)

var typeNames = map[Type]string{
	TypeUnknown:     "unknown",
	PercentageLimit: "percentage_limit",
	Threshold:       "threshold",
	TimeRule:        "time_rule",
	Exception:       "exception",
	Definition:      "definition",
	CrossReference:  "cross_reference",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s && t != TypeUnknown {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown rule type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Op is the comparison a threshold performs.
type Op int

const (
	// OpMeets tests subject >= limit.
	OpMeets Op = iota
	// OpCap yields min(subject, limit).
	OpCap
	// OpExcess yields max(0, subject - limit).
	OpExcess
)

func (o Op) String() string {
	switch o {
	case OpCap:
		return "cap"
	case OpExcess:
		return "excess"
	default:
		return "meets"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(b []byte) error {
	switch string(b) {
	case "cap":
		*o = OpCap
	case "excess":
		*o = OpExcess
	case "meets", "":
		*o = OpMeets
	default:
		return fmt.Errorf("unknown threshold op %q", b)
	}
	return nil
}

// Operands bind a rule's inputs to profile fields or to the ids of rules
// evaluated earlier in a chain.
type Operands struct {
	// Subject is the amount being limited, compared or carried over.
	Subject string `json:"subject,omitempty"`
	// Base is the amount a percentage applies to, or the operand a threshold
	// compares against in place of a fixed Amount.
	Base string `json:"base,omitempty"`
	// Plus and Minus adjust a cross_reference carryover figure.
	Plus  []string `json:"plus,omitempty"`
	Minus []string `json:"minus,omitempty"`
	// Guard names an exception rule; when that exception is not triggered
	// the guarded rule yields zero.
	Guard string `json:"guard,omitempty"`
	// Holding names a duration field that must meet Rule.Months for a
	// percentage or threshold rule to apply at all.
	Holding string `json:"holding,omitempty"`
	// FloorZero clamps a negative result to zero.
	FloorZero bool `json:"floor_zero,omitempty"`
}

// Refs lists every operand name, in a stable order.
func (o Operands) Refs() []string {
	var refs []string
	for _, r := range []string{o.Subject, o.Base, o.Guard, o.Holding} {
		if r != "" {
			refs = append(refs, r)
		}
	}
	refs = append(refs, o.Plus...)
	refs = append(refs, o.Minus...)
	return refs
}

// Bound reports whether any operand is set.
func (o Operands) Bound() bool {
	return len(o.Refs()) > 0
}

func (o Operands) clone() Operands {
	o.Plus = slices.Clone(o.Plus)
	o.Minus = slices.Clone(o.Minus)
	return o
}

// Rule is one normalized statutory condition or formula.
type Rule struct {
	Section    string `json:"section"`
	Subsection string `json:"subsection,omitempty"`
	Citation   string `json:"citation"`
	Type       Type   `json:"rule_type"`

	Percent      money.BasisPoints `json:"percent,omitempty"`
	Amount       money.Cents       `json:"amount,omitempty"`
	Months       int               `json:"months,omitempty"`
	WindowMonths int               `json:"window_months,omitempty"`
	Op           Op                `json:"op,omitempty"`
	Term         string            `json:"term,omitempty"`
	Meaning      string            `json:"meaning,omitempty"`
	Targets      []string          `json:"targets,omitempty"`

	Trigger   string   `json:"trigger,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Text      string   `json:"text"`
	Operands  Operands `json:"operands,omitempty"`
}

// ID is the section plus subsection path, e.g. "357(c)(1)".
func (r Rule) ID() string {
	return r.Section + r.Subsection
}

// Validate enforces the value semantics fixed by the rule type.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Section) == "" {
		return fmt.Errorf("rule has no section")
	}
	switch r.Type {
	case PercentageLimit:
		if r.Percent < 0 || r.Percent > money.Whole {
			return fmt.Errorf("percentage %s outside [0, 100%%]", r.Percent)
		}
	case Threshold:
		if r.Amount < 0 {
			return fmt.Errorf("threshold amount %s is negative", r.Amount)
		}
		if r.Amount == 0 && r.Op == OpMeets && r.Operands.Base == "" {
			return fmt.Errorf("threshold has neither an amount nor a comparison")
		}
	case TimeRule:
		if r.Months <= 0 {
			return fmt.Errorf("duration %d months is not positive", r.Months)
		}
		if r.WindowMonths != 0 && r.WindowMonths < r.Months {
			return fmt.Errorf("window %d months shorter than duration %d", r.WindowMonths, r.Months)
		}
	case Exception:
	case Definition:
		if strings.TrimSpace(r.Meaning) == "" {
			return fmt.Errorf("definition has no meaning")
		}
	case CrossReference:
		if len(r.Targets) == 0 {
			return fmt.Errorf("cross reference has no targets")
		}
	default:
		return fmt.Errorf("unclassified rule")
	}
	if r.Months < 0 {
		return fmt.Errorf("negative duration")
	}
	return nil
}

// Bind returns a copy of r with its operands set. The chain resolver treats
// operand names that match chain member ids as dependencies.
func (r Rule) Bind(ops Operands) Rule {
	out := r.clone()
	out.Operands = ops.clone()
	return out
}

// WithDependsOn returns a copy of r with ids added to its dependencies.
func (r Rule) WithDependsOn(ids ...string) Rule {
	out := r.clone()
	for _, id := range ids {
		if !slices.Contains(out.DependsOn, id) {
			out.DependsOn = append(out.DependsOn, id)
		}
	}
	return out
}

// Recall reports whether the rule is unbound and can only be asked about
// by its stated value.
func (r Rule) Recall() bool {
	return !r.Operands.Bound()
}

func (r Rule) clone() Rule {
	r.Targets = slices.Clone(r.Targets)
	r.DependsOn = slices.Clone(r.DependsOn)
	r.Operands = r.Operands.clone()
	return r
}

// Fragment is one raw piece of statutory text handed over by the corpus.
type Fragment struct {
	SectionID  string `json:"section_id"`
	Subsection string `json:"subsection_id"`
	Citation   string `json:"citation"`
	Text       string `json:"text"`
}

// ExtractionError reports a fragment that could not be normalized. The
// fragment is skipped; the batch goes on.
type ExtractionError struct {
	SectionID  string
	Subsection string
	Reason     string
	Err        error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract %s%s: %s", e.SectionID, e.Subsection, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }
