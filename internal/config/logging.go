package config

import "pageexplorer/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`       // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"` // json instead of console encoding
	Console    bool            `yaml:"console"`     // mirror to stderr
	Dir        string          `yaml:"dir"`         // per-category log files
	DebugMode  bool            `yaml:"debug_mode"`  // Master toggle - false = no logging (production)
	Categories map[string]bool `yaml:"categories"`  // Per-category toggles
}

// ToLogging converts the section for logging.Initialize.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		DebugMode:  c.DebugMode,
		Level:      c.Level,
		JSONFormat: c.JSONFormat,
		Console:    c.Console,
		Dir:        c.Dir,
		Categories: c.Categories,
	}
}
