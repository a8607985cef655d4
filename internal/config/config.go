// Package config handles configuration loading and management for Tandem.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// Config holds all configuration for Tandem.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Models    ModelsConfig    `mapstructure:"models"`
	State     StateConfig     `mapstructure:"state"`
}

// AnthropicConfig holds Anthropic API settings for the direct-API runner.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// UseAWSBedrock routes API sessions through AWS Bedrock.
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// RunnerConfig selects and tunes the session runner.
type RunnerConfig struct {
	// Mode is "cli" (claude subprocess) or "api" (direct Anthropic API).
	Mode string `mapstructure:"mode"`
	// MaxTurns caps the API runner's tool loop per session.
	MaxTurns int `mapstructure:"max_turns"`
}

// LoopConfig holds the state machine knobs.
type LoopConfig struct {
	// ArchitectureInterval is how many completed features trigger an
	// architecture review. Zero disables it.
	ArchitectureInterval int `mapstructure:"architecture_interval"`
	// BatchSize caps items per implementation session (1-5).
	BatchSize int `mapstructure:"batch_size"`
	// RetryCeiling is the fix attempts allowed per branch.
	RetryCeiling int `mapstructure:"retry_ceiling"`
	// CandidateLimit caps the candidate listing shown to reviewers and
	// the work CLI.
	CandidateLimit int `mapstructure:"candidate_limit"`
	// MaxIterations caps sessions per run invocation. Zero means no cap.
	MaxIterations int `mapstructure:"max_iterations"`
	// SessionTimeout bounds one session invocation.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// MainBranch is the integration branch.
	MainBranch string `mapstructure:"main_branch"`
}

// ModelsConfig maps session types to models.
type ModelsConfig struct {
	Default      string `mapstructure:"default"`
	Init         string `mapstructure:"init"`
	Implement    string `mapstructure:"implement"`
	Review       string `mapstructure:"review"`
	Architecture string `mapstructure:"architecture"`
}

// ForSession returns the model override for a session type, or empty for
// the default.
func (m ModelsConfig) ForSession(t models.SessionType) string {
	switch t {
	case models.SessionInit, models.SessionBrownfieldInit:
		return m.Init
	case models.SessionImplement, models.SessionBugfix, models.SessionFix:
		return m.Implement
	case models.SessionReview:
		return m.Review
	case models.SessionArchitecture:
		return m.Architecture
	default:
		return ""
	}
}

// StateConfig locates the coordination store.
type StateConfig struct {
	// Dir is the state directory, relative to the work target unless
	// absolute.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.tandem.yaml in current directory or parent)
// 3. User config (~/.config/tandem/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")
	v.BindEnv("runner.mode", "TANDEM_RUNNER")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the tunables that have hard bounds.
func (c *Config) Validate() error {
	if c.Loop.BatchSize < 1 || c.Loop.BatchSize > 5 {
		return fmt.Errorf("loop.batch_size must be between 1 and 5, got %d", c.Loop.BatchSize)
	}
	if c.Loop.RetryCeiling < 1 {
		return fmt.Errorf("loop.retry_ceiling must be at least 1, got %d", c.Loop.RetryCeiling)
	}
	if c.Runner.Mode != "cli" && c.Runner.Mode != "api" {
		return fmt.Errorf("runner.mode must be \"cli\" or \"api\", got %q", c.Runner.Mode)
	}
	return nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("runner.mode", cfg.Runner.Mode)
	v.Set("runner.max_turns", cfg.Runner.MaxTurns)
	v.Set("loop.architecture_interval", cfg.Loop.ArchitectureInterval)
	v.Set("loop.batch_size", cfg.Loop.BatchSize)
	v.Set("loop.retry_ceiling", cfg.Loop.RetryCeiling)
	v.Set("loop.candidate_limit", cfg.Loop.CandidateLimit)
	v.Set("loop.max_iterations", cfg.Loop.MaxIterations)
	v.Set("loop.session_timeout", cfg.Loop.SessionTimeout.String())
	v.Set("loop.main_branch", cfg.Loop.MainBranch)
	v.Set("models.default", cfg.Models.Default)
	v.Set("models.init", cfg.Models.Init)
	v.Set("models.implement", cfg.Models.Implement)
	v.Set("models.review", cfg.Models.Review)
	v.Set("models.architecture", cfg.Models.Architecture)
	v.Set("state.dir", cfg.State.Dir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("runner.mode", "cli")
	v.SetDefault("runner.max_turns", 200)

	v.SetDefault("loop.architecture_interval", 5)
	v.SetDefault("loop.batch_size", 3)
	v.SetDefault("loop.retry_ceiling", 3)
	v.SetDefault("loop.candidate_limit", 15)
	v.SetDefault("loop.max_iterations", 0)
	v.SetDefault("loop.session_timeout", "45m")
	v.SetDefault("loop.main_branch", "main")

	v.SetDefault("models.default", "")
	v.SetDefault("models.init", "")
	v.SetDefault("models.implement", "")
	v.SetDefault("models.review", "")
	v.SetDefault("models.architecture", "")

	v.SetDefault("state.dir", ".tandem")
}

// getUserConfigDir returns the XDG config directory for Tandem.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tandem")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tandem")
	}
	return filepath.Join(home, ".config", "tandem")
}

// findProjectConfig searches for .tandem.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".tandem.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Runner: RunnerConfig{
			Mode:     "cli",
			MaxTurns: 200,
		},
		Loop: LoopConfig{
			ArchitectureInterval: 5,
			BatchSize:            3,
			RetryCeiling:         3,
			CandidateLimit:       15,
			SessionTimeout:       45 * time.Minute,
			MainBranch:           "main",
		},
		State: StateConfig{
			Dir: ".tandem",
		},
	}
}

// StateDir resolves the state directory against a work target root.
func (c *Config) StateDir(root string) string {
	if filepath.IsAbs(c.State.Dir) {
		return c.State.Dir
	}
	return filepath.Join(root, c.State.Dir)
}

// SessionModels expands the model mapping into the per-session-type form
// the orchestrator consumes.
func (c *Config) SessionModels() map[models.SessionType]string {
	out := make(map[models.SessionType]string)
	for _, t := range []models.SessionType{
		models.SessionInit, models.SessionBrownfieldInit, models.SessionImplement,
		models.SessionBugfix, models.SessionReview, models.SessionFix, models.SessionArchitecture,
	} {
		if m := c.Models.ForSession(t); m != "" {
			out[t] = m
		} else if c.Models.Default != "" {
			out[t] = c.Models.Default
		}
	}
	return out
}
