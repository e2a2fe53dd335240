package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config describes the harness configuration loaded from YAML and ENV. All
// fields have defaults; a missing config file is not an error.
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Policy        PolicyConfig        `mapstructure:"policy" yaml:"policy"`
	Artifacts     ArtifactsConfig     `mapstructure:"artifacts" yaml:"artifacts"`
	Tools         ToolsConfig         `mapstructure:"tools" yaml:"tools"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // console or json
}

// PolicyConfig extends the built-in command denylist.
type PolicyConfig struct {
	DeniedCommands []string `mapstructure:"denied_commands" yaml:"denied_commands"`
}

// ArtifactsConfig controls where per-run event logs are written, relative to
// the workspace root.
type ArtifactsConfig struct {
	Subdir string `mapstructure:"subdir" yaml:"subdir"`
}

// ToolsConfig holds tool settings. CommandTimeoutMS is validated but not read
// by the tool host or the executor.
type ToolsConfig struct {
	CommandTimeoutMS int `mapstructure:"command_timeout_ms" yaml:"command_timeout_ms"`
}

// ObservabilityConfig toggles in-process metrics collection.
type ObservabilityConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Load reads configuration from the provided path, or from config.yaml in
// "." / "configs" when path is empty. Environment variables override file
// values (prefix: GRAYLINE_, dots replaced with underscores). A missing file
// yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GRAYLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("artifacts.subdir", ".agent_runs")

	v.SetDefault("tools.command_timeout_ms", 5000)

	v.SetDefault("observability.metrics_enabled", true)
}

// Validate checks bounds and enumerations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	if c.Artifacts.Subdir == "" {
		return fmt.Errorf("artifacts.subdir cannot be empty")
	}
	if c.Tools.CommandTimeoutMS < 0 {
		return fmt.Errorf("tools.command_timeout_ms cannot be negative")
	}
	return nil
}
