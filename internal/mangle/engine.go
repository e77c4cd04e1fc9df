// Package mangle answers entailment queries in-process with Google Mangle.
//
// The engine compiles the embedded statutory program once. Every Evaluate
// call loads its facts into a fresh store, so one Engine serves any number
// of concurrent workers.
package mangle

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"taxbench/internal/logging"
	"taxbench/internal/logic"
)

//go:embed statutes.mg
var statutesProgram string

// Program returns the embedded statutory program source.
func Program() string { return statutesProgram }

// Engine is a compiled statutory program.
type Engine struct {
	programInfo    *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
}

// NewEngine compiles the embedded program plus any extra program files.
func NewEngine(extraPaths ...string) (*Engine, error) {
	sources := []string{statutesProgram}
	for _, path := range extraPaths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read program file %s: %w", path, err)
		}
		sources = append(sources, string(data))
	}
	return NewEngineFromSource(strings.Join(sources, "\n"))
}

// NewEngineFromSource compiles program text.
func NewEngineFromSource(program string) (*Engine, error) {
	unit, err := parse.Unit(strings.NewReader(program))
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze program: %w", err)
	}
	index := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		index[sym.Symbol] = sym
	}
	logging.LogicDebug("mangle program compiled: %d decls, %d rules", len(programInfo.Decls), len(programInfo.Rules))
	return &Engine{programInfo: programInfo, predicateIndex: index}, nil
}

// Declared reports whether predicate is declared by the program.
func (e *Engine) Declared(predicate string) bool {
	_, ok := e.predicateIndex[predicate]
	return ok
}

// Evaluate implements logic.Evaluator.
//
// A ground query that is derived is an Entailment; if instead its not_
// counterpart is derived it is a Contradiction; otherwise Unknown. A query
// with one variable yields Numeric when exactly one number binds it.
func (e *Engine) Evaluate(ctx context.Context, facts []string, query string) (logic.Verdict, error) {
	shape, err := parseQueryShape(query)
	if err != nil {
		return logic.Verdict{}, err
	}
	if !e.Declared(shape.atom.Predicate.Symbol) {
		return logic.Verdict{}, fmt.Errorf("predicate %s is not declared", shape.atom.Predicate.Symbol)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range facts {
		atom, err := e.factAtom(f)
		if err != nil {
			return logic.Verdict{}, err
		}
		store.Add(atom)
	}

	if err := ctx.Err(); err != nil {
		return logic.Verdict{}, err
	}
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := mengine.EvalProgramWithStats(e.programInfo, store)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return logic.Verdict{}, fmt.Errorf("mangle evaluation: %w", err)
		}
	case <-ctx.Done():
		return logic.Verdict{}, fmt.Errorf("query execution timed out after %v: %w", time.Since(start), ctx.Err())
	}

	rows := match(store, shape)
	if len(shape.variables) == 0 {
		if len(rows) > 0 {
			return logic.Entailed(), nil
		}
		negated := shape.atom
		negated.Predicate.Symbol = "not_" + negated.Predicate.Symbol
		if e.Declared(negated.Predicate.Symbol) && len(match(store, &queryShape{atom: negated})) > 0 {
			return logic.Contradicted(), nil
		}
		return logic.Undetermined(), nil
	}

	if len(shape.variables) != 1 {
		return logic.Verdict{}, fmt.Errorf("query %q binds %d variables; want 1", query, len(shape.variables))
	}
	values := make(map[int64]bool)
	for _, row := range rows {
		c, ok := row[shape.variables[0].Name].(ast.Constant)
		if !ok || c.Type != ast.NumberType {
			return logic.Undetermined(), nil
		}
		values[c.NumValue] = true
	}
	if len(values) != 1 {
		return logic.Undetermined(), nil
	}
	for v := range values {
		return logic.Number(v), nil
	}
	return logic.Undetermined(), nil
}

func (e *Engine) factAtom(fact string) (ast.Atom, error) {
	clean := strings.TrimSuffix(strings.TrimSpace(fact), ".")
	atom, err := parse.Atom(clean)
	if err != nil {
		return ast.Atom{}, fmt.Errorf("failed to parse fact %q: %w", fact, err)
	}
	sym, ok := e.predicateIndex[atom.Predicate.Symbol]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared in schemas", atom.Predicate.Symbol)
	}
	if len(atom.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", sym.Symbol, sym.Arity, len(atom.Args))
	}
	for i, arg := range atom.Args {
		if _, ok := arg.(ast.Constant); !ok {
			return ast.Atom{}, fmt.Errorf("fact %q arg %d is not a constant", fact, i)
		}
	}
	return ast.Atom{Predicate: sym, Args: atom.Args}, nil
}

type queryVariable struct {
	Name  string
	Index int
}

type queryShape struct {
	atom      ast.Atom
	variables []queryVariable
}

func parseQueryShape(query string) (*queryShape, error) {
	clean := strings.TrimSpace(query)
	if clean == "" {
		return nil, fmt.Errorf("empty query")
	}
	clean = strings.TrimSpace(strings.TrimPrefix(clean, "?"))
	clean = strings.TrimSpace(strings.TrimSuffix(clean, "."))

	atom, err := parse.Atom(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", query, err)
	}

	var variables []queryVariable
	for idx, arg := range atom.Args {
		if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
			variables = append(variables, queryVariable{Name: v.Symbol, Index: idx})
		}
	}
	return &queryShape{atom: atom, variables: variables}, nil
}

// match returns the variable bindings of every derived fact that agrees
// with the query's constants.
func match(store factstore.FactStore, shape *queryShape) []map[string]ast.BaseTerm {
	var rows []map[string]ast.BaseTerm
	sym := ast.PredicateSym{Symbol: shape.atom.Predicate.Symbol, Arity: len(shape.atom.Args)}
	_ = store.GetFacts(ast.NewQuery(sym), func(fact ast.Atom) error {
		for i, arg := range shape.atom.Args {
			c, ok := arg.(ast.Constant)
			if !ok {
				continue
			}
			if i >= len(fact.Args) || !c.Equals(fact.Args[i]) {
				return nil
			}
		}
		row := make(map[string]ast.BaseTerm, len(shape.variables))
		for _, v := range shape.variables {
			row[v.Name] = fact.Args[v.Index]
		}
		rows = append(rows, row)
		return nil
	})
	return rows
}
