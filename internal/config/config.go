// Package config loads the sudo-prompt YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by WithDefaults.
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultHistoryLimit = 100
)

// Duration wraps time.Duration with YAML unmarshalling for human-readable strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServeConfig holds serve-subcommand settings.
type ServeConfig struct {
	LogLevel      string   `yaml:"log_level"`
	LogFormat     string   `yaml:"log_format"`
	PromptTimeout Duration `yaml:"prompt_timeout"`
	HistoryLimit  int      `yaml:"history_limit"`
	Notifications *bool    `yaml:"notifications"`
}

// Config is the top-level configuration file structure.
type Config struct {
	StateDir string `yaml:"state_dir"`
	Socket   string `yaml:"socket"`

	// Request defaults. Reloaded while serving.
	Name        string `yaml:"name"`
	Icon        string `yaml:"icon"`
	MaxAttempts *int   `yaml:"max_attempts"`

	SudoPath       string   `yaml:"sudo_path"`
	Frontends      []string `yaml:"frontends"`
	RefreshCommand string   `yaml:"refresh_command"`
	AuthPattern    string   `yaml:"auth_pattern"`
	ToolPattern    string   `yaml:"tool_pattern"`

	Serve ServeConfig `yaml:"serve"`
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "sudo-prompt", "config.yaml")
}

// Load reads and parses a YAML config file. If the file does not exist,
// it returns an empty Config and a nil error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.MaxAttempts != nil && *cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("parsing config %s: max_attempts must not be negative", path)
	}
	return &cfg, nil
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/sudo-prompt/api.sock, or ""
// when XDG_RUNTIME_DIR is unset.
func DefaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return ""
	}
	return filepath.Join(runtimeDir, "sudo-prompt", "api.sock")
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c *Config) WithDefaults() *Config {
	out := *c
	if out.Socket == "" {
		out.Socket = DefaultSocketPath()
	}
	if out.Serve.LogLevel == "" {
		out.Serve.LogLevel = DefaultLogLevel
	}
	if out.Serve.LogFormat == "" {
		out.Serve.LogFormat = DefaultLogFormat
	}
	if out.Serve.HistoryLimit == 0 {
		out.Serve.HistoryLimit = DefaultHistoryLimit
	}
	return &out
}

// Validate checks values Load cannot check by type alone.
func (c *Config) Validate() error {
	var errs []error
	switch c.Serve.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("serve.log_format must be text or json, got %q", c.Serve.LogFormat))
	}
	switch c.Serve.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("serve.log_level must be debug, info, warn or error, got %q", c.Serve.LogLevel))
	}
	if c.Serve.PromptTimeout < 0 {
		errs = append(errs, errors.New("serve.prompt_timeout must not be negative"))
	}
	if c.Serve.HistoryLimit < 0 {
		errs = append(errs, errors.New("serve.history_limit must not be negative"))
	}
	for _, f := range c.Frontends {
		if !filepath.IsAbs(f) {
			errs = append(errs, fmt.Errorf("frontends: %q is not an absolute path", f))
		}
	}
	for key, pattern := range map[string]string{"auth_pattern": c.AuthPattern, "tool_pattern": c.ToolPattern} {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
