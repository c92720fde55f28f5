package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pageexplorer/internal/driver"
)

// Config holds all pageexplorer configuration.
type Config struct {
	Browser       BrowserConfig       `yaml:"browser"`
	Explore       ExploreConfig       `yaml:"explore"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BrowserConfig describes the already-running browser to attach to.
type BrowserConfig struct {
	Backend          string `yaml:"backend"` // rod, chromedp
	Binary           string `yaml:"binary"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ImplicitWait     string `yaml:"implicit_wait"`
	PageLoad         string `yaml:"page_load"` // normal, eager
	UnreachableTitle string `yaml:"unreachable_title"`
}

// ExploreConfig configures a CLI exploration run.
type ExploreConfig struct {
	URL              string `yaml:"url"`
	InstructionsFile string `yaml:"instructions_file"`
	CloseWait        string `yaml:"close_wait"`
	ClosePoll        string `yaml:"close_poll"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     bool   `yaml:"tracing"`
}

// Supported backends.
const (
	BackendRod      = "rod"
	BackendChromedp = "chromedp"
)

// ValidBackends lists all supported driver backends.
var ValidBackends = []string{BackendRod, BackendChromedp}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Backend:          BackendRod,
			Host:             "127.0.0.1",
			Port:             9222,
			ImplicitWait:     "30s",
			PageLoad:         string(driver.PageLoadNormal),
			UnreachableTitle: driver.DefaultUnreachableTitle,
		},
		Explore: ExploreConfig{
			CloseWait: "0s",
			ClosePoll: "500ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PAGE_EXPLORER_BACKEND"); v != "" {
		c.Browser.Backend = v
	}
	if v := os.Getenv("PAGE_EXPLORER_BINARY"); v != "" {
		c.Browser.Binary = v
	}
	if v := os.Getenv("PAGE_EXPLORER_HOST"); v != "" {
		c.Browser.Host = v
	}
	if v := os.Getenv("PAGE_EXPLORER_PORT"); v != "" {
		// Unparseable ports are left for Validate to report on the file value.
		if port, err := strconv.Atoi(v); err == nil {
			c.Browser.Port = port
		}
	}
	if v := os.Getenv("PAGE_EXPLORER_URL"); v != "" {
		c.Explore.URL = v
	}
	if v := os.Getenv("PAGE_EXPLORER_INSTRUCTIONS"); v != "" {
		c.Explore.InstructionsFile = v
	}
	if v := os.Getenv("PAGE_EXPLORER_METRICS_ADDR"); v != "" {
		c.Observability.MetricsAddr = v
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetImplicitWait returns the per-command wait budget as a duration.
func (c *Config) GetImplicitWait() time.Duration {
	return parseDurationOr(c.Browser.ImplicitWait, driver.DefaultImplicitWait)
}

// GetCloseWait returns how long to wait for the browser to go away after
// requesting window.close().
func (c *Config) GetCloseWait() time.Duration {
	return parseDurationOr(c.Explore.CloseWait, 0)
}

// GetClosePoll returns the liveness poll interval used while closing.
func (c *Config) GetClosePoll() time.Duration {
	return parseDurationOr(c.Explore.ClosePoll, 500*time.Millisecond)
}

// DriverOptions converts the browser section to backend dial options.
func (c *Config) DriverOptions() driver.Options {
	return driver.Options{
		Binary:           c.Browser.Binary,
		Host:             c.Browser.Host,
		Port:             c.Browser.Port,
		ImplicitWait:     c.GetImplicitWait(),
		PageLoad:         driver.PageLoad(c.Browser.PageLoad),
		UnreachableTitle: c.Browser.UnreachableTitle,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validBackend := false
	for _, b := range ValidBackends {
		if c.Browser.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid backend: %s (valid: %v)", c.Browser.Backend, ValidBackends)
	}

	if c.Browser.Port <= 0 || c.Browser.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Browser.Port)
	}

	switch driver.PageLoad(c.Browser.PageLoad) {
	case "", driver.PageLoadNormal, driver.PageLoadEager:
	default:
		return fmt.Errorf("invalid page_load: %s (valid: [normal eager])", c.Browser.PageLoad)
	}

	if c.Browser.ImplicitWait != "" {
		if _, err := time.ParseDuration(c.Browser.ImplicitWait); err != nil {
			return fmt.Errorf("invalid implicit_wait %q: %w", c.Browser.ImplicitWait, err)
		}
	}

	return nil
}
