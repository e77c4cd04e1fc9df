package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TAXGEN_LOGIC_BACKEND.
const EnvPrefix = "TAXGEN_"

// Config holds all taxgen configuration.
type Config struct {
	// Statutory corpus
	Corpus CorpusConfig `yaml:"corpus" envPrefix:"CORPUS_"`

	// Batch generation
	Generation GenerationConfig `yaml:"generation" envPrefix:"GENERATION_"`

	// Logic evaluator used by the entailment path
	Logic LogicConfig `yaml:"logic" envPrefix:"LOGIC_"`

	// Persistence and export
	Output OutputConfig `yaml:"output" envPrefix:"OUTPUT_"`

	// Logging
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOGGING_"`
}

// CorpusConfig locates the structured corpus.
type CorpusConfig struct {
	Root string `yaml:"root" env:"ROOT"`
}

// GenerationConfig configures a batch.
type GenerationConfig struct {
	RunSeed           uint64   `yaml:"run_seed" env:"RUN_SEED"`
	Workers           int      `yaml:"workers" env:"WORKERS"`
	Variations        int      `yaml:"variations" env:"VARIATIONS"`
	SamplerRetries    int      `yaml:"sampler_retries" env:"SAMPLER_RETRIES"`
	DistractorRetries int      `yaml:"distractor_retries" env:"DISTRACTOR_RETRIES"`
	Sections          []string `yaml:"sections,omitempty" env:"SECTIONS" envSeparator:","`
}

// LogicConfig selects and tunes the logic backend.
type LogicConfig struct {
	Backend      string        `yaml:"backend" env:"BACKEND"` // mangle, prolog
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retries      int           `yaml:"retries" env:"RETRIES"`
	PrologBinary string        `yaml:"prolog_binary,omitempty" env:"PROLOG_BINARY"`
	ProgramPath  string        `yaml:"program_path,omitempty" env:"PROGRAM_PATH"` // loaded after the built-in program
}

// OutputConfig configures where accepted items go.
type OutputConfig struct {
	Dir      string `yaml:"dir" env:"DIR"`
	Database string `yaml:"database,omitempty" env:"DATABASE"` // default: taxgen.db in Dir
	Format   string `yaml:"format" env:"FORMAT"` // json, jsonl
}

var (
	// ValidBackends lists the supported logic backends.
	ValidBackends = []string{"mangle", "prolog"}
	// ValidFormats lists the supported export formats.
	ValidFormats = []string{"json", "jsonl"}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Root: "data/irc",
		},

		Generation: GenerationConfig{
			Workers:           4,
			Variations:        5,
			SamplerRetries:    10,
			DistractorRetries: 5,
		},

		Logic: LogicConfig{
			Backend: "mangle",
			Timeout: 5 * time.Second,
			Retries: 2,
		},

		Output: OutputConfig{
			Dir:    "out",
			Format: "json",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Corpus.Root == "" {
		return fmt.Errorf("corpus root not configured (set corpus.root or %sCORPUS_ROOT)", EnvPrefix)
	}
	if !slices.Contains(ValidBackends, c.Logic.Backend) {
		return fmt.Errorf("invalid logic backend: %s (valid: %v)", c.Logic.Backend, ValidBackends)
	}
	if !slices.Contains(ValidFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (valid: %v)", c.Output.Format, ValidFormats)
	}
	if c.Logic.Timeout <= 0 {
		return fmt.Errorf("logic timeout must be positive, got %v", c.Logic.Timeout)
	}
	if c.Logic.Retries < 0 {
		return fmt.Errorf("logic retries must not be negative, got %d", c.Logic.Retries)
	}
	g := c.Generation
	for _, f := range []struct {
		name  string
		value int
	}{
		{"workers", g.Workers},
		{"variations", g.Variations},
		{"sampler_retries", g.SamplerRetries},
		{"distractor_retries", g.DistractorRetries},
	} {
		if f.value <= 0 {
			return fmt.Errorf("generation.%s must be positive, got %d", f.name, f.value)
		}
	}
	return nil
}

// DatabasePath returns the sqlite store path, taxgen.db inside the output
// directory unless Database is set.
func (o OutputConfig) DatabasePath() string {
	if o.Database != "" {
		return o.Database
	}
	return filepath.Join(o.Dir, "taxgen.db")
}
