// Package logic defines the logic-evaluation capability used by the
// entailment path and the retry/timeout discipline every backend runs under.
package logic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the shape of a verdict.
type Kind int

const (
	Unknown Kind = iota
	Entailment
	Contradiction
	Numeric
)

var kindNames = [...]string{"Unknown", "Entailment", "Contradiction", "Numeric"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown verdict kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Verdict is the answer to one query. Value is set for Numeric verdicts.
type Verdict struct {
	Kind  Kind
	Value int64
}

func Entailed() Verdict { return Verdict{Kind: Entailment} }
func Contradicted() Verdict { return Verdict{Kind: Contradiction} }
func Number(v int64) Verdict { return Verdict{Kind: Numeric, Value: v} }
func Undetermined() Verdict { return Verdict{Kind: Unknown} }

// Answer is the gold-answer form of the verdict: the kind name, or the
// number for Numeric verdicts.
func (v Verdict) Answer() string {
	if v.Kind == Numeric {
		return strconv.FormatInt(v.Value, 10)
	}
	return v.Kind.String()
}

func (v Verdict) String() string {
	if v.Kind == Numeric {
		return fmt.Sprintf("Numeric(%d)", v.Value)
	}
	return v.Kind.String()
}

// Evaluator answers a query against an ordered set of facts.
// Implementations must honor ctx cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, facts []string, query string) (Verdict, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, facts []string, query string) (Verdict, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, facts []string, query string) (Verdict, error) {
	return f(ctx, facts, query)
}

var (
	// ErrTransient marks a failure worth retrying: a crashed or killed
	// interpreter process.
	ErrTransient = errors.New("transient logic evaluation failure")
	// ErrUnavailable marks a backend that cannot run at all.
	ErrUnavailable = errors.New("logic backend unavailable")
)

// InterpreterError is returned once a query has failed past its retry budget,
// or failed in a way retrying cannot fix.
type InterpreterError struct {
	Backend  string
	Query    string
	Attempts int
	Err      error
}

func (e *InterpreterError) Error() string {
	return fmt.Sprintf("%s: query %q failed after %d attempt(s): %v", e.Backend, e.Query, e.Attempts, e.Err)
}

func (e *InterpreterError) Unwrap() error { return e.Err }
