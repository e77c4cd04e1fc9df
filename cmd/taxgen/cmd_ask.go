package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taxbench/internal/logic"
	"taxbench/internal/mangle"
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Evaluate a query against facts with the logic backend",
	Long: `Loads facts from --fact flags and --facts files (one fact per line, '%'
comments allowed) and answers the query with the configured logic backend.

Example:
  taxgen ask 'meets_residence_test(/s121_a)' \
    --fact 'residence_months(/s121_a, 30).' --fact 'lookback_months(/s121_a, 60).'

  taxgen ask --program    # print the configured backend's built-in program`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

var (
	askFacts     []string
	askFactFiles []string
	askProgram   bool
)

func init() {
	askCmd.Flags().StringArrayVar(&askFacts, "fact", nil, "Fact to assert (repeatable)")
	askCmd.Flags().StringArrayVar(&askFactFiles, "facts", nil, "File of facts (repeatable)")
	askCmd.Flags().BoolVar(&askProgram, "program", false, "Print the logic backend's built-in statutory program and exit")
}

func runAsk(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if askProgram {
		src, err := builtinProgram(cfg.Logic.Backend)
		if err != nil {
			return err
		}
		fmt.Fprint(out, src)
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("a query is required")
	}

	facts := append([]string(nil), askFacts...)
	for _, path := range askFactFiles {
		more, err := readFacts(path)
		if err != nil {
			return err
		}
		facts = append(facts, more...)
	}

	ev, err := newEvaluator(cfg.Logic)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	v, err := ev.Evaluate(ctx, facts, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, v.Answer())
	return nil
}

// builtinProgram returns the statutory program embedded in backend.
func builtinProgram(backend string) (string, error) {
	switch backend {
	case "prolog":
		return logic.PrologProgram(), nil
	case "mangle", "":
		return mangle.Program(), nil
	default:
		return "", fmt.Errorf("unknown logic backend %q", backend)
	}
}

// readFacts returns the non-blank, non-comment lines of path.
func readFacts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open facts file: %w", err)
	}
	defer f.Close()

	var facts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		facts = append(facts, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return facts, nil
}
