// Package chain resolves multi-section rule chains.
//
// Members are evaluated in topological order of their dependency graph.
// Edges come from a member's DependsOn list and from any operand that names
// another member's id. Among members that are ready at the same time the one
// declared first wins, so the order is stable for a given chain.
package chain

import (
	"fmt"
	"slices"

	"taxbench/internal/logging"
	"taxbench/internal/profile"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
)

// Chain is an ordered sequence of bound rules with a declared position.
type Chain struct {
	Name    string
	Members []rules.Rule
	// Target is the member whose value is the chain result. Empty means the
	// last member in evaluation order.
	Target string
}

// Step is the result of evaluating one member.
type Step struct {
	ID     string
	Rule   rules.Rule
	Result simulate.Result
}

// Resolution is a resolved chain.
type Resolution struct {
	Final simulate.Value
	// FinalID is the id of the member that produced Final.
	FinalID string
	Steps   []Step
}

// Explanation joins every step's explanation in evaluation order.
func (r Resolution) Explanation() string {
	var out string
	for i, s := range r.Steps {
		if i > 0 {
			out += " "
		}
		out += s.Result.Explanation
	}
	return out
}

// Step returns the step for member id.
func (r Resolution) Step(id string) (Step, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Sections returns the distinct sections spanned by the chain, in
// declaration order.
func (c Chain) Sections() []string {
	var out []string
	for _, m := range c.Members {
		if !slices.Contains(out, m.Section) {
			out = append(out, m.Section)
		}
	}
	return out
}

// Citations lists member citations in declaration order.
func (c Chain) Citations() []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		out = append(out, m.Citation)
	}
	return out
}

// HasException reports whether any member is an exception rule. A guard on
// a time rule or threshold does not count.
func (c Chain) HasException() bool {
	for _, m := range c.Members {
		if m.Type == rules.Exception {
			return true
		}
	}
	return false
}

// Resolve evaluates the chain against p.
func Resolve(c Chain, p profile.Profile) (Resolution, error) {
	return ResolveWith(c, simulate.ProfileEnv(p))
}

// ResolveWith evaluates the chain against env. Each member's output is
// visible to later members under the member's id.
func ResolveWith(c Chain, env simulate.Env) (Resolution, error) {
	timer := logging.StartTimer(logging.CategoryChain, "chain.Resolve "+c.Name)
	defer timer.Stop()

	order, err := Order(c)
	if err != nil {
		return Resolution{}, err
	}

	scope := simulate.NewOverlay(env)
	res := Resolution{Steps: make([]Step, 0, len(order))}
	for _, idx := range order {
		m := c.Members[idx]
		out, err := simulate.EvaluateWith(m, scope)
		if err != nil {
			return Resolution{}, &ResolutionError{Kind: Invalid, Chain: c.Name, Member: m.ID(), Err: err}
		}
		if out.Value.Kind == simulate.KindAmount && out.Value.Amount < 0 {
			return Resolution{}, &ResolutionError{
				Kind: Invalid, Chain: c.Name, Member: m.ID(),
				Err: fmt.Errorf("negative intermediate %s", out.Value.Amount),
			}
		}
		scope.Set(m.ID(), out.Value)
		res.Steps = append(res.Steps, Step{ID: m.ID(), Rule: m, Result: out})
	}

	target := c.Target
	if target == "" {
		target = res.Steps[len(res.Steps)-1].ID
	}
	step, ok := res.Step(target)
	if !ok {
		return Resolution{}, &ResolutionError{Kind: Missing, Chain: c.Name, Member: target, Dependency: target}
	}
	res.Final = step.Result.Value
	res.FinalID = target
	logging.Get(logging.CategoryChain).Debug("chain %s resolved %d members to %s", c.Name, len(res.Steps), res.Final)
	return res, nil
}

// Order returns member indexes in evaluation order (Kahn's algorithm with
// ties broken by declared position).
func Order(c Chain) ([]int, error) {
	if len(c.Members) == 0 {
		return nil, &ResolutionError{Kind: Invalid, Chain: c.Name, Err: fmt.Errorf("empty chain")}
	}
	index := make(map[string]int, len(c.Members))
	for i, m := range c.Members {
		id := m.ID()
		if _, dup := index[id]; dup {
			return nil, &ResolutionError{Kind: Invalid, Chain: c.Name, Member: id, Err: fmt.Errorf("duplicate member")}
		}
		index[id] = i
	}

	indegree := make([]int, len(c.Members))
	dependents := make([][]int, len(c.Members))
	for i, m := range c.Members {
		for _, dep := range dependencies(m, index) {
			j, ok := index[dep]
			if !ok {
				return nil, &ResolutionError{Kind: Missing, Chain: c.Name, Member: m.ID(), Dependency: dep}
			}
			if j == i {
				return nil, &ResolutionError{Kind: Cycle, Chain: c.Name, Members: []string{m.ID()}}
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(c.Members))
	order := make([]int, 0, len(c.Members))
	for len(order) < len(c.Members) {
		next := -1
		for i := range c.Members {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, m := range c.Members {
				if !done[i] {
					stuck = append(stuck, m.ID())
				}
			}
			return nil, &ResolutionError{Kind: Cycle, Chain: c.Name, Members: stuck}
		}
		done[next] = true
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// dependencies lists DependsOn plus operand references to other members,
// without duplicates.
func dependencies(m rules.Rule, members map[string]int) []string {
	var deps []string
	for _, d := range m.DependsOn {
		if !slices.Contains(deps, d) {
			deps = append(deps, d)
		}
	}
	for _, ref := range m.Operands.Refs() {
		if _, ok := members[ref]; ok && !slices.Contains(deps, ref) {
			deps = append(deps, ref)
		}
	}
	return deps
}
