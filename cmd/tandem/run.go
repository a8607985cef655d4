package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/orchestrator"
	"github.com/ShayCichocki/tandem/internal/runner"
	"github.com/ShayCichocki/tandem/internal/verification"
)

var (
	runBrief         string
	runBriefFile     string
	runRunnerMode    string
	runModel         string
	runMaxIterations int
	runOnce          bool
	runDebug         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestration loop",
	Long: `Run the orchestration loop against the work target.

Each iteration decides the next session from the stored status and the
last session record, invokes one agent session, and appends the result.
The loop halts on errors, unreproducible bugs, or an empty backlog.

The loop is resumable: interrupt it at any point and the next run picks
up from the stored status.

Examples:
  tandem run --brief "a CLI todo app with tags"   # First run after init
  tandem run                                      # Resume
  tandem run --once                               # Single session, then stop
  tandem run --max-iterations 10                  # Bounded run`,
	RunE: runLoop,
}

func init() {
	runCmd.Flags().StringVar(&runBrief, "brief", "", "Project brief for the init session")
	runCmd.Flags().StringVar(&runBriefFile, "brief-file", "", "Read the project brief from a file")
	runCmd.Flags().StringVar(&runRunnerMode, "runner", "", "Runner mode: cli or api (overrides config)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model for all sessions (overrides config)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Stop after N sessions (0 = until halt)")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single session and stop")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Write a debug log under the state directory")
}

func runLoop(cmd *cobra.Command, args []string) error {
	db, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	workDir, err := filepath.Abs(rootTarget)
	if err != nil {
		return fmt.Errorf("resolving work target: %w", err)
	}
	stateDir := cfg.StateDir(workDir)

	brief := runBrief
	if runBriefFile != "" {
		data, err := os.ReadFile(runBriefFile)
		if err != nil {
			return fmt.Errorf("reading brief file: %w", err)
		}
		brief = string(data)
	}

	logger := orchestrator.NopLogger()
	if runDebug {
		logger = orchestrator.NewDebugLoggerForStateDir(stateDir)
		defer logger.Close()
	}

	r, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}

	maxIterations := runMaxIterations
	if maxIterations == 0 {
		maxIterations = cfg.Loop.MaxIterations
	}
	if runOnce {
		maxIterations = 1
	}

	engine := &orchestrator.Engine{
		DB:     db,
		Gate:   verification.NewGate(filepath.Join(stateDir, "verification")),
		Runner: r,
		Policy: orchestrator.Policy{
			ArchitectureInterval: cfg.Loop.ArchitectureInterval,
			BatchSize:            cfg.Loop.BatchSize,
			RetryCeiling:         cfg.Loop.RetryCeiling,
			MainBranch:           cfg.Loop.MainBranch,
		},
		SessionTimeout: cfg.Loop.SessionTimeout,
		MaxIterations:  maxIterations,
		WorkDir:        workDir,
		StateDir:       stateDir,
		ProjectBrief:   brief,
		Models:         cfg.SessionModels(),
		Logger:         logger,
	}
	if runModel != "" {
		for t := range engine.Models {
			engine.Models[t] = runModel
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = engine.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println("\nInterrupted. Run 'tandem run' to resume.")
		return nil
	case errors.Is(err, orchestrator.ErrSessionFailed):
		fmt.Fprintf(os.Stderr, "\nLoop halted: %v\n", err)
		fmt.Fprintln(os.Stderr, "Inspect with 'tandem status', then resume with 'tandem run'.")
		os.Exit(1)
	case err != nil:
		return err
	}

	fmt.Println("\nLoop finished. Run 'tandem status' for a summary.")
	return nil
}

// buildRunner constructs the configured session runner.
func buildRunner(cfg *config.Config, logger *orchestrator.DebugLogger) (runner.Runner, error) {
	mode := cfg.Runner.Mode
	if runRunnerMode != "" {
		mode = runRunnerMode
	}

	switch mode {
	case "cli":
		r := runner.NewCLIRunner(cfg.Models.Default, logger)
		if err := r.CheckCLI(); err != nil {
			return nil, err
		}
		return r, nil
	case "api":
		apiKey, err := config.GetAPIKey(cfg)
		if err != nil && !cfg.Anthropic.UseAWSBedrock {
			return nil, err
		}
		return runner.NewAPIRunner(runner.APIConfig{
			Model:         cfg.Models.Default,
			APIKey:        apiKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
			MaxTurns:      cfg.Runner.MaxTurns,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown runner mode %q (want cli or api)", mode)
	}
}
