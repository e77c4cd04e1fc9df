package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"taxbench/internal/logic"
	"taxbench/internal/question"
	"taxbench/internal/store"
	"taxbench/internal/validate"
)

var checkCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Re-validate exported question and entailment case files",
	Long: `Re-runs the validation gate over exported records: schema, distinct
choices, answer linkage, duplicate content and content-derived ids. Files whose
name starts with entailment_cases are read as entailment cases, anything else
as questions. With no arguments the configured output directory is checked.

With --logic every entailment case is re-asked of the logic backend and its
verdict compared with the recorded answer.`,
	RunE: runCheck,
}

var checkLogic bool

func init() {
	checkCmd.Flags().BoolVar(&checkLogic, "logic", false, "Re-ask entailment cases of the logic backend")
}

// issue is one problem found in an exported record.
type issue struct {
	ID     string
	Reason string
	Detail string
}

func (i issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.ID, i.Reason, i.Detail)
}

func runCheck(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		format, err := store.ParseFormat(cfg.Output.Format)
		if err != nil {
			return err
		}
		q, c := store.Paths(cfg.Output.Dir, format)
		paths = []string{q, c}
	}

	ctx, cancel := commandContext()
	defer cancel()

	var ev logic.Evaluator
	if checkLogic {
		var err error
		if ev, err = newEvaluator(cfg.Logic); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		var (
			issues []issue
			n      int
		)
		if strings.HasPrefix(filepath.Base(path), store.CasesFile) {
			cs, err := store.ReadCases(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			n = len(cs)
			if issues, err = checkCases(ctx, cs, ev); err != nil {
				return err
			}
		} else {
			qs, err := store.ReadQuestions(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			n = len(qs)
			if issues, err = checkQuestions(ctx, qs); err != nil {
				return err
			}
		}
		for _, is := range issues {
			fmt.Fprintf(out, "%s: %s\n", path, is)
		}
		fmt.Fprintf(out, "%s: %d records, %d issues\n", path, n, len(issues))
		failed += len(issues)
	}
	if failed > 0 {
		return fmt.Errorf("check found %d issues", failed)
	}
	return nil
}

func checkQuestions(ctx context.Context, qs []question.Question) ([]issue, error) {
	gate := validate.New(validate.NewMemorySet())
	var issues []issue
	for _, q := range qs {
		if !slices.Contains(question.Types(), q.Type) {
			issues = append(issues, issue{q.ID, string(validate.ReasonSchema), fmt.Sprintf("unknown type %q", q.Type)})
			continue
		}
		if q.Difficulty < 1 || q.Difficulty > 5 {
			issues = append(issues, issue{q.ID, string(validate.ReasonSchema), fmt.Sprintf("difficulty %d out of range", q.Difficulty)})
			continue
		}
		got, err := gate.Validate(ctx, validate.Candidate{Question: q, Correct: q.Answer()})
		if is, fatal := gateIssue(q.ID, err); fatal != nil {
			return nil, fatal
		} else if is != nil {
			issues = append(issues, *is)
			continue
		}
		if got.ID != q.ID {
			issues = append(issues, issue{q.ID, "id", fmt.Sprintf("content id is %s", got.ID)})
		}
	}
	return issues, nil
}

func checkCases(ctx context.Context, cs []question.EntailmentCase, ev logic.Evaluator) ([]issue, error) {
	gate := validate.New(validate.NewMemorySet())
	var issues []issue
	for _, ec := range cs {
		got, err := gate.ValidateCase(ctx, validate.CaseCandidate{Case: ec, Expected: ec.Answer})
		if is, fatal := gateIssue(ec.ID, err); fatal != nil {
			return nil, fatal
		} else if is != nil {
			issues = append(issues, *is)
			continue
		}
		if got.ID != ec.ID {
			issues = append(issues, issue{ec.ID, "id", fmt.Sprintf("content id is %s", got.ID)})
			continue
		}
		if ev == nil {
			continue
		}
		v, err := ev.Evaluate(ctx, ec.Facts, ec.Query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			issues = append(issues, issue{ec.ID, "interpreter", err.Error()})
			continue
		}
		if v.Answer() != ec.Answer {
			issues = append(issues, issue{ec.ID, "verdict", fmt.Sprintf("backend answers %s, recorded %s", v.Answer(), ec.Answer)})
		}
	}
	return issues, nil
}

// gateIssue turns a gate rejection into an issue. Any other error is fatal.
func gateIssue(id string, err error) (*issue, error) {
	if err == nil {
		return nil, nil
	}
	var rej *validate.Rejection
	if errors.As(err, &rej) {
		return &issue{id, string(rej.Reason), rej.Detail}, nil
	}
	return nil, err
}
