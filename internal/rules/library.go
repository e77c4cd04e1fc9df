package rules

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"taxbench/internal/logging"
)

// Library is the set of rules normalized from one corpus, keyed by rule id.
type Library struct {
	rules map[string]Rule
	order []string
}

// Build normalizes every fragment. Fragments that fail are returned as
// errors alongside the library built from the rest.
func Build(fragments []Fragment) (*Library, []error) {
	lib := &Library{rules: make(map[string]Rule)}
	var errs []error
	for _, f := range fragments {
		r, err := Normalize(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := lib.Add(r); err != nil {
			errs = append(errs, err)
		}
	}
	logging.Rules("normalized %d of %d fragments", lib.Len(), len(fragments))
	return lib, errs
}

// ErrDuplicateRule is returned when two fragments normalize to the same id.
var ErrDuplicateRule = errors.New("duplicate rule id")

// Add inserts a rule. The first rule for an id wins.
func (l *Library) Add(r Rule) error {
	id := r.ID()
	if _, ok := l.rules[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, id)
	}
	l.rules[id] = r
	i, _ := slices.BinarySearch(l.order, id)
	l.order = slices.Insert(l.order, i, id)
	return nil
}

// Get returns the rule with the given id.
func (l *Library) Get(id string) (Rule, bool) {
	r, ok := l.rules[id]
	return r, ok
}

// Len returns the number of rules.
func (l *Library) Len() int { return len(l.order) }

// All returns every rule sorted by id.
func (l *Library) All() []Rule {
	out := make([]Rule, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.rules[id])
	}
	return out
}

// OfType returns rules of type t sorted by id.
func (l *Library) OfType(t Type) []Rule {
	var out []Rule
	for _, id := range l.order {
		if r := l.rules[id]; r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// Sections returns the distinct section numbers, sorted.
func (l *Library) Sections() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range l.order {
		s := l.rules[id].Section
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
