package chain

import (
	"fmt"
	"strings"
)

// ErrorKind categorizes resolution errors.
type ErrorKind int

const (
	// Cycle means the dependency graph is not acyclic.
	Cycle ErrorKind = iota
	// Missing means a declared dependency is not a chain member.
	Missing
	// Invalid means a member could not be evaluated or produced a value
	// that violates its type's invariant.
	Invalid
)

func (k ErrorKind) String() string {
	switch k {
	case Cycle:
		return "cycle"
	case Missing:
		return "missing"
	default:
		return "invalid"
	}
}

// ResolutionError describes a chain that could not be resolved.
type ResolutionError struct {
	Kind       ErrorKind
	Chain      string
	Member     string
	Dependency string
	Members    []string
	Err        error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	switch e.Kind {
	case Cycle:
		return fmt.Sprintf("chain %s: dependency cycle among %s", e.Chain, strings.Join(e.Members, ", "))
	case Missing:
		return fmt.Sprintf("chain %s: member %s: missing dependency %s", e.Chain, e.Member, e.Dependency)
	default:
		if e.Member == "" {
			return fmt.Sprintf("chain %s: %v", e.Chain, e.Err)
		}
		return fmt.Sprintf("chain %s: member %s: %v", e.Chain, e.Member, e.Err)
	}
}

func (e *ResolutionError) Unwrap() error { return e.Err }
