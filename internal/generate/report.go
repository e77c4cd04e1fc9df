package generate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"taxbench/internal/chain"
	"taxbench/internal/entailment"
	"taxbench/internal/logic"
	"taxbench/internal/profile"
	"taxbench/internal/rules"
	"taxbench/internal/simulate"
	"taxbench/internal/validate"
)

// Skip kinds count per-item failures that never reached the gate.
const (
	SkipExtraction    = "extraction"
	SkipMissingRule   = "missing_rule"
	SkipBinding       = "template_binding"
	SkipChain         = "chain_resolution"
	SkipNotComputable = "not_computable"
	SkipInterpreter   = "interpreter"
	SkipUndetermined  = "undetermined"
	SkipDisagreement  = "disagreement"
	SkipUnsupported   = "unsupported"
	SkipOther         = "other"
)

// Report summarizes a run.
type Report struct {
	Items     int                     `json:"items"`
	Generated int                     `json:"generated"`
	Cases     int                     `json:"entailment_cases"`
	Rejected  map[validate.Reason]int `json:"rejected"`
	Skipped   map[string]int          `json:"skipped"`
}

func newReport(items int) Report {
	return Report{Items: items, Rejected: make(map[validate.Reason]int), Skipped: make(map[string]int)}
}

func (r *Report) reject(reason validate.Reason) { r.Rejected[reason]++ }
func (r *Report) skip(kind string) { r.Skipped[kind]++ }

// AddSkipped counts n failures of kind found outside the run, such as
// fragments the rule model could not normalize.
func (r *Report) AddSkipped(kind string, n int) {
	if n <= 0 {
		return
	}
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[kind] += n
}

// TotalRejected sums rejections over every reason.
func (r Report) TotalRejected() int {
	n := 0
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

// Summary renders the report on one line with keys in a stable order.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "items=%d generated=%d cases=%d rejected=%d", r.Items, r.Generated, r.Cases, r.TotalRejected())
	b.WriteString(" [")
	first := true
	for _, reason := range validate.Reasons() {
		if n := r.Rejected[reason]; n > 0 {
			if !first {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%d", reason, n)
			first = false
		}
	}
	b.WriteString("] skipped [")
	kinds := make([]string, 0, len(r.Skipped))
	for k := range r.Skipped {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for i, k := range kinds {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", k, r.Skipped[k])
	}
	b.WriteByte(']')
	return b.String()
}

func skipKind(err error) string {
	var (
		extraction *rules.ExtractionError
		binding    *profile.TemplateBindingError
		chainErr   *chain.ResolutionError
		interp     *logic.InterpreterError
	)
	switch {
	case errors.As(err, &extraction):
		return SkipExtraction
	case errors.Is(err, ErrMissingRule):
		return SkipMissingRule
	case errors.As(err, &binding):
		return SkipBinding
	case errors.As(err, &chainErr):
		return SkipChain
	case errors.As(err, &interp):
		return SkipInterpreter
	case errors.Is(err, entailment.ErrUndetermined):
		return SkipUndetermined
	case errors.Is(err, entailment.ErrDisagreement):
		return SkipDisagreement
	case errors.Is(err, entailment.ErrUnsupported):
		return SkipUnsupported
	case errors.Is(err, simulate.ErrNotComputable):
		return SkipNotComputable
	default:
		return SkipOther
	}
}
