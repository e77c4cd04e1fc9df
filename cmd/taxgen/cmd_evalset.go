package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"taxbench/internal/profile"
	"taxbench/internal/question"
	"taxbench/internal/store"
)

var evalsetCmd = &cobra.Command{
	Use:   "evalset",
	Short: "Draw a stratified evaluation subset of the exported questions",
	Long: `Draws up to --per-type questions of each question type from the exported
question file. The draw depends only on --seed and the question ids, so the
same export and seed always give the same subset.`,
	Args: cobra.NoArgs,
	RunE: runEvalset,
}

var (
	evalsetIn      string
	evalsetOut     string
	evalsetPerType int
	evalsetSeed    uint64
)

func init() {
	evalsetCmd.Flags().StringVar(&evalsetIn, "in", "", "Question file (default: questions file in the output directory)")
	evalsetCmd.Flags().StringVar(&evalsetOut, "out-file", "", "Subset file (default: eval_set.json in the output directory)")
	evalsetCmd.Flags().IntVar(&evalsetPerType, "per-type", 25, "Questions per type")
	evalsetCmd.Flags().Uint64Var(&evalsetSeed, "seed", 0, "Draw seed")
}

func runEvalset(cmd *cobra.Command, args []string) error {
	if evalsetPerType <= 0 {
		return fmt.Errorf("--per-type must be positive, got %d", evalsetPerType)
	}
	in := evalsetIn
	if in == "" {
		format, err := store.ParseFormat(cfg.Output.Format)
		if err != nil {
			return err
		}
		in, _ = store.Paths(cfg.Output.Dir, format)
	}
	out := evalsetOut
	if out == "" {
		out = filepath.Join(cfg.Output.Dir, "eval_set.json")
	}

	qs, err := store.ReadQuestions(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", in, err)
	}
	subset := stratify(qs, evalsetPerType, evalsetSeed)
	if err := store.WriteQuestions(out, subset); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	counts := make(map[question.Type]int)
	for _, q := range subset {
		counts[q.Type]++
	}
	for _, t := range question.Types() {
		fmt.Fprintf(w, "%-12s %d\n", t, counts[t])
	}
	fmt.Fprintf(w, "wrote %d of %d questions to %s\n", len(subset), len(qs), out)
	return nil
}

// stratify picks up to perType questions of each type, grouped in
// question.Types order. Each group is drawn from its own seeded stream.
func stratify(qs []question.Question, perType int, seed uint64) []question.Question {
	groups := make(map[question.Type][]question.Question)
	for _, q := range qs {
		groups[q.Type] = append(groups[q.Type], q)
	}
	var out []question.Question
	for _, t := range question.Types() {
		group := groups[t]
		question.SortQuestions(group)
		rng := profile.Rand(profile.DeriveSeed(seed, "evalset", string(t)))
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		if len(group) > perType {
			group = group[:perType]
		}
		question.SortQuestions(group)
		out = append(out, group...)
	}
	return out
}
