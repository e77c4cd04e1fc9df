// Package logging provides config-driven categorized logging for taxgen.
// Every category logger is a zap sugared logger tagged with a "category"
// field. Until Initialize or SetBase is called all loggers are no-ops.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config loading
	CategoryCorpus     Category = "corpus"     // Statutory corpus loading
	CategoryRules      Category = "rules"      // Fragment normalization
	CategorySampler    Category = "sampler"    // Profile sampling
	CategorySimulate   Category = "simulate"   // Template engine
	CategoryChain      Category = "chain"      // Rule-chain resolution
	CategoryLogic      Category = "logic"      // Logic evaluators (mangle, prolog)
	CategoryEntailment Category = "entailment" // Fact patterns and verdicts
	CategoryDistractor Category = "distractor" // Wrong-answer synthesis
	CategoryGate       Category = "gate"       // Validation and dedup
	CategoryPipeline   Category = "pipeline"   // Work items and worker pool
	CategoryStore      Category = "store"      // sqlite persistence and export
)

// AllCategories lists every category in a fixed order.
func AllCategories() []Category {
	return []Category{
		CategoryBoot, CategoryCorpus, CategoryRules, CategorySampler, CategorySimulate, CategoryChain,
		CategoryLogic, CategoryEntailment, CategoryDistractor, CategoryGate, CategoryPipeline, CategoryStore,
	}
}

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string
	Format     string // json or console
	DebugMode  bool
	Categories map[string]bool
	Output     []string
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the process logger from cfg.
func Initialize(cfg Config) error {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	if cfg.DebugMode {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.Output) > 0 {
		zcfg.OutputPaths = cfg.Output
	}
	zcfg.Sampling = nil

	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	install(l, cfg.Categories)
	return nil
}

// SetBase installs an existing zap logger, e.g. the CLI's or a test observer.
func SetBase(l *zap.Logger) {
	install(l, nil)
}

func install(l *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Base returns the current zap logger.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// IsCategoryEnabled reports whether the category is enabled; categories not
// listed in the config are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	enabled, exists := categories[string(category)]
	return !exists || enabled
}

// Get returns (or creates) the logger for category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := base
	if enabled, ok := categories[string(category)]; ok && !enabled {
		z = zap.NewNop()
	}
	l := &Logger{category: category, sugar: z.Sugar().With("category", string(category))}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes buffered entries.
func Sync() {
	_ = Base().Sync()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

func Corpus(format string, args ...interface{}) { Get(CategoryCorpus).Info(format, args...) }
func CorpusWarn(format string, args ...interface{}) { Get(CategoryCorpus).Warn(format, args...) }

func Rules(format string, args ...interface{}) { Get(CategoryRules).Info(format, args...) }
func RulesDebug(format string, args ...interface{}) { Get(CategoryRules).Debug(format, args...) }
func RulesWarn(format string, args ...interface{}) { Get(CategoryRules).Warn(format, args...) }

func SamplerWarn(format string, args ...interface{}) { Get(CategorySampler).Warn(format, args...) }

func ChainWarn(format string, args ...interface{}) { Get(CategoryChain).Warn(format, args...) }

func Logic(format string, args ...interface{}) { Get(CategoryLogic).Info(format, args...) }
func LogicDebug(format string, args ...interface{}) { Get(CategoryLogic).Debug(format, args...) }
func LogicWarn(format string, args ...interface{}) { Get(CategoryLogic).Warn(format, args...) }

func EntailmentDebug(format string, args ...interface{}) { Get(CategoryEntailment).Debug(format, args...) }
func EntailmentWarn(format string, args ...interface{}) { Get(CategoryEntailment).Warn(format, args...) }

func DistractorWarn(format string, args ...interface{}) { Get(CategoryDistractor).Warn(format, args...) }

func GateDebug(format string, args ...interface{}) { Get(CategoryGate).Debug(format, args...) }

func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func PipelineWarn(format string, args ...interface{}) { Get(CategoryPipeline).Warn(format, args...) }

func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
