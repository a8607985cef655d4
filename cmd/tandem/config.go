package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Tandem configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/tandem/config.yaml
Project-specific overrides can be placed in .tandem.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("runner.mode: %s\n", cfg.Runner.Mode)
	fmt.Printf("runner.max_turns: %d\n", cfg.Runner.MaxTurns)
	fmt.Printf("loop.architecture_interval: %d\n", cfg.Loop.ArchitectureInterval)
	fmt.Printf("loop.batch_size: %d\n", cfg.Loop.BatchSize)
	fmt.Printf("loop.retry_ceiling: %d\n", cfg.Loop.RetryCeiling)
	fmt.Printf("loop.candidate_limit: %d\n", cfg.Loop.CandidateLimit)
	fmt.Printf("loop.max_iterations: %d\n", cfg.Loop.MaxIterations)
	fmt.Printf("loop.session_timeout: %s\n", cfg.Loop.SessionTimeout)
	fmt.Printf("loop.main_branch: %s\n", cfg.Loop.MainBranch)
	fmt.Printf("models.default: %s\n", orUnset(cfg.Models.Default))
	fmt.Printf("models.init: %s\n", orUnset(cfg.Models.Init))
	fmt.Printf("models.implement: %s\n", orUnset(cfg.Models.Implement))
	fmt.Printf("models.review: %s\n", orUnset(cfg.Models.Review))
	fmt.Printf("models.architecture: %s\n", orUnset(cfg.Models.Architecture))
	fmt.Printf("state.dir: %s\n", cfg.State.Dir)
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "runner.mode":
		return cfg.Runner.Mode, nil
	case "runner.max_turns":
		return strconv.Itoa(cfg.Runner.MaxTurns), nil
	case "loop.architecture_interval":
		return strconv.Itoa(cfg.Loop.ArchitectureInterval), nil
	case "loop.batch_size":
		return strconv.Itoa(cfg.Loop.BatchSize), nil
	case "loop.retry_ceiling":
		return strconv.Itoa(cfg.Loop.RetryCeiling), nil
	case "loop.candidate_limit":
		return strconv.Itoa(cfg.Loop.CandidateLimit), nil
	case "loop.max_iterations":
		return strconv.Itoa(cfg.Loop.MaxIterations), nil
	case "loop.session_timeout":
		return cfg.Loop.SessionTimeout.String(), nil
	case "loop.main_branch":
		return cfg.Loop.MainBranch, nil
	case "models.default":
		return cfg.Models.Default, nil
	case "models.init":
		return cfg.Models.Init, nil
	case "models.implement":
		return cfg.Models.Implement, nil
	case "models.review":
		return cfg.Models.Review, nil
	case "models.architecture":
		return cfg.Models.Architecture, nil
	case "state.dir":
		return cfg.State.Dir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.use_aws_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		cfg.Anthropic.UseAWSBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "runner.mode":
		cfg.Runner.Mode = value
	case "runner.max_turns":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		cfg.Runner.MaxTurns = n
	case "loop.architecture_interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		cfg.Loop.ArchitectureInterval = n
	case "loop.batch_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		cfg.Loop.BatchSize = n
	case "loop.retry_ceiling":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		cfg.Loop.RetryCeiling = n
	case "loop.candidate_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		cfg.Loop.CandidateLimit = n
	case "loop.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		cfg.Loop.MaxIterations = n
	case "loop.session_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		cfg.Loop.SessionTimeout = d
	case "loop.main_branch":
		cfg.Loop.MainBranch = value
	case "models.default":
		cfg.Models.Default = value
	case "models.init":
		cfg.Models.Init = value
	case "models.implement":
		cfg.Models.Implement = value
	case "models.review":
		cfg.Models.Review = value
	case "models.architecture":
		cfg.Models.Architecture = value
	case "state.dir":
		cfg.State.Dir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
