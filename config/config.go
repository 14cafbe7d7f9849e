// Package config loads the gojotxn YAML configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Shell     ShellConfig      `yaml:"shell"`
}

// ShellConfig configures the interactive shell.
type ShellConfig struct {
	Prompt string `yaml:"prompt"`
	// HistoryFile is where line history is persisted. Empty disables history.
	HistoryFile string `yaml:"history_file"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.DefaultConfig(),
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "gojotxn",
			TraceSampleRatio: 1.0,
		},
		Shell: ShellConfig{Prompt: "gojotxn> "},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Logger.Level != "" && !logger.ValidLevel(c.Logger.Level) {
		return fmt.Errorf("unknown log level %q", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logger.Format)
	}
	if c.Telemetry.PrometheusPort < 0 || c.Telemetry.PrometheusPort > 65535 {
		return fmt.Errorf("prometheus_port %d out of range", c.Telemetry.PrometheusPort)
	}
	return nil
}
