package logic

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"taxbench/internal/logging"
)

//go:embed statutes.pl
var statutesProgram string

// PrologProgram returns the embedded statutory program consulted before
// every query.
func PrologProgram() string { return statutesProgram }

// Prolog evaluates queries by running SWI-Prolog as a subprocess, one
// process per query. Facts use the same syntax the mangle backend accepts;
// name constants lose their leading slash.
type Prolog struct {
	// Binary is the swipl executable. Empty means "swipl" on PATH.
	Binary string
	// Program is an optional extra program consulted after the built-in one.
	Program string
}

var nameConstant = regexp.MustCompile(`/([a-z][A-Za-z0-9_]*)`)

// Available reports whether the interpreter binary can be found.
func (p *Prolog) Available() bool {
	_, err := exec.LookPath(p.binary())
	return err == nil
}

func (p *Prolog) binary() string {
	if p.Binary == "" {
		return "swipl"
	}
	return p.Binary
}

// Evaluate implements Evaluator.
func (p *Prolog) Evaluate(ctx context.Context, facts []string, query string) (Verdict, error) {
	bin, err := exec.LookPath(p.binary())
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	goal, err := prologGoal(query)
	if err != nil {
		return Verdict{}, err
	}

	dir, err := os.MkdirTemp("", "taxgen-prolog-")
	if err != nil {
		return Verdict{}, fmt.Errorf("prolog workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	var src strings.Builder
	src.WriteString(statutesProgram)
	src.WriteString("\n")
	if p.Program != "" {
		extra, err := os.ReadFile(p.Program)
		if err != nil {
			return Verdict{}, fmt.Errorf("read prolog program: %w", err)
		}
		src.Write(extra)
		src.WriteString("\n")
	}
	for _, f := range facts {
		src.WriteString(toProlog(f))
		src.WriteString("\n")
	}
	file := filepath.Join(dir, "case.pl")
	if err := os.WriteFile(file, []byte(src.String()), 0o644); err != nil {
		return Verdict{}, fmt.Errorf("write prolog case: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-q", "-f", file, "-g", goal, "-t", "halt")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logging.LogicDebug("prolog: %s", goal)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, fmt.Errorf("prolog %s: %w", query, ctxErr)
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) && exit.ExitCode() == 2 {
			return Verdict{}, fmt.Errorf("prolog %s: %s", query, strings.TrimSpace(stderr.String()))
		}
		return Verdict{}, fmt.Errorf("prolog %s: %v: %w", query, err, ErrTransient)
	}
	return parseOutput(strings.TrimSpace(stdout.String()))
}

func toProlog(fact string) string {
	f := strings.TrimSpace(fact)
	if !strings.HasSuffix(f, ".") {
		f += "."
	}
	return nameConstant.ReplaceAllString(f, "$1")
}

var atomShape = regexp.MustCompile(`^([a-z][A-Za-z0-9_]*)\((.*)\)$`)

// prologGoal builds a goal that prints true, false, unknown or the value of
// the query's single variable.
func prologGoal(query string) (string, error) {
	q := strings.TrimSuffix(strings.TrimSpace(toProlog(query)), ".")
	m := atomShape.FindStringSubmatch(q)
	if m == nil {
		return "", fmt.Errorf("unsupported query %q", query)
	}
	var variable string
	for _, arg := range strings.Split(m[2], ",") {
		arg = strings.TrimSpace(arg)
		if arg != "" && (arg[0] == '_' || (arg[0] >= 'A' && arg[0] <= 'Z')) {
			if variable != "" {
				return "", fmt.Errorf("query %q binds more than one variable", query)
			}
			variable = arg
		}
	}
	var body string
	if variable != "" {
		body = fmt.Sprintf("(%s -> write(%s) ; write(unknown))", q, variable)
	} else {
		negated := "not_" + q
		body = fmt.Sprintf("(%s -> write(true) ; (catch(%s, _, fail) -> write(false) ; write(unknown)))", q, negated)
	}
	return fmt.Sprintf("catch(%s, E, (print_message(error, E), halt(2)))", body), nil
}

func parseOutput(out string) (Verdict, error) {
	switch out {
	case "true":
		return Entailed(), nil
	case "false":
		return Contradicted(), nil
	case "unknown":
		return Undetermined(), nil
	}
	n, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return Verdict{}, fmt.Errorf("unreadable prolog output %q: %w", out, ErrTransient)
	}
	return Number(n), nil
}
