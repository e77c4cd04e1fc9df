package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" env:"LEVEL"`           // debug, info, warn, error
	Format     string          `yaml:"format" env:"FORMAT"`         // json, console
	File       string          `yaml:"file,omitempty" env:"FILE"`   // empty means stderr
	DebugMode  bool            `yaml:"debug_mode" env:"DEBUG_MODE"` // forces debug level
	Categories map[string]bool `yaml:"categories,omitempty"`        // per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Outputs is the zap output path list for the configured file.
func (c *LoggingConfig) Outputs() []string {
	if c.File == "" {
		return []string{"stderr"}
	}
	return []string{c.File}
}
