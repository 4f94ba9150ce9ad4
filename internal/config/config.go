// Package config loads convlint configuration from .convlint.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file convlint looks for at the workspace root.
const DefaultFileName = ".convlint.yml"

// Config holds all convlint configuration.
type Config struct {
	Scanner     ScannerConfig     `yaml:"scanner"`
	Kernel      KernelConfig      `yaml:"kernel"`
	Rules       RulesConfig       `yaml:"rules"`
	Conventions ConventionsConfig `yaml:"conventions"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ScannerConfig controls workspace traversal.
type ScannerConfig struct {
	Include []string `yaml:"include"` // glob patterns, default **/*.cs
	Exclude []string `yaml:"exclude"` // glob patterns, default bin/ obj/
	// Hidden directories that are scanned despite the leading dot.
	HiddenAllowlist []string `yaml:"hidden_allowlist"`
	// Parallel hash/parse workers.
	Workers int `yaml:"workers"`
}

// KernelConfig controls the Mangle fact kernel.
type KernelConfig struct {
	FactLimit    int    `yaml:"fact_limit"`
	QueryTimeout string `yaml:"query_timeout"`
	// Directory of user Datalog rule files relative to the workspace.
	RuleDir string `yaml:"rule_dir"`
}

// RulesConfig holds per-rule overrides and shared parameters.
type RulesConfig struct {
	// Disabled lists rule IDs that never run.
	Disabled []string `yaml:"disabled"`
	// Severity maps rule ID to an override (error, warning, info).
	Severity map[string]string `yaml:"severity"`
	// TestNameParts is the underscore-separated segment count required by
	// tests/name-parts.
	TestNameParts int `yaml:"test_name_parts"`
	// PluginDir holds yaegi rule scripts relative to the workspace.
	PluginDir string `yaml:"plugin_dir"`
}

// ConventionsConfig points at the team convention document.
type ConventionsConfig struct {
	Path string `yaml:"path"`
}

// BaselineConfig controls the accepted-findings store.
type BaselineConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format string `yaml:"format"` // text, json, sarif
	Color  bool   `yaml:"color"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Include:         []string{"**/*.cs"},
			Exclude:         []string{"bin/**", "obj/**", "**/Migrations/**"},
			HiddenAllowlist: []string{".github", ".config"},
			Workers:         8,
		},
		Kernel: KernelConfig{
			FactLimit:    500000,
			QueryTimeout: "30s",
			RuleDir:      ".convlint/rules",
		},
		Rules: RulesConfig{
			TestNameParts: 3,
			PluginDir:     ".convlint/plugins",
			Severity:      map[string]string{},
		},
		Conventions: ConventionsConfig{
			Path: "CONVENTIONS.md",
		},
		Baseline: BaselineConfig{
			DatabasePath: ".convlint/baseline.db",
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadWorkspace loads the workspace's .convlint.yml.
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, DefaultFileName))
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

// applyEnvOverrides applies CONVLINT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONVLINT_FORMAT"); v != "" {
		c.Output.Format = v
	}
	if v := os.Getenv("CONVLINT_DB"); v != "" {
		c.Baseline.DatabasePath = v
	}
	if v := os.Getenv("CONVLINT_CONVENTIONS"); v != "" {
		c.Conventions.Path = v
	}
	if v := os.Getenv("CONVLINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CONVLINT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = b
		}
	}
	if v := os.Getenv("CONVLINT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scanner.Workers = n
		}
	}
}

// RuleDisabled reports whether the given rule ID is disabled by config.
func (c *Config) RuleDisabled(id string) bool {
	for _, d := range c.Rules.Disabled {
		if d == id {
			return true
		}
	}
	return false
}

// QueryTimeout returns the Mangle query timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Kernel.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
