// Command taxgen generates tax-statute multiple-choice questions and
// logical-entailment cases from a structured corpus of the Internal Revenue
// Code.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxbench/internal/config"
	"taxbench/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	corpusRoot string
	outputDir  string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "taxgen",
	Short: "Generate tax-statute questions and entailment cases",
	Long: `taxgen reads a structured corpus of the Internal Revenue Code, normalizes
its subsections into computable rules and generates multiple-choice questions
and logical-entailment cases whose answers are computed, never guessed.

Configuration is read from --config (YAML) and TAXGEN_* environment variables;
flags override both.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if corpusRoot != "" {
			loaded.Corpus.Root = corpusRoot
		}
		if outputDir != "" {
			loaded.Output.Dir = outputDir
		}
		if verbose {
			loaded.Logging.DebugMode = true
		}
		cfg = loaded

		if err := logging.Initialize(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			Output:     cfg.Logging.Outputs(),
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Base()
		logging.Boot("taxgen %s", cmd.Name())
		logging.BootDebug("config loaded from %q, corpus %s", configPath, cfg.Corpus.Root)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "taxgen.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&corpusRoot, "corpus", "", "Corpus root (overrides corpus.root)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "out", "o", "", "Output directory (overrides output.dir)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall timeout (0 means none)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(evalsetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
