package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/state"
)

var rootTarget string

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Session-based coding agent orchestrator",
	Long: `Tandem drives autonomous coding agents through a fixed loop:
implement, review, fix, repeat. Progress lives in an append-only
SQLite store, so any session can crash and the next one picks up
exactly where it left off.

Core capabilities:
- Maintains a work ledger of features, bugs, and debt
- Spawns one stateless agent session at a time
- Forces every batch through adversarial review before it counts
- Caps fix attempts per branch, then settles the verdict
- Schedules periodic architecture reviews`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootTarget, "target", ".", "Work target directory")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// openStore loads config, opens the coordination store under the work
// target, and migrates the schema.
func openStore() (*state.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	stateDir := cfg.StateDir(rootTarget)
	db, err := state.Open(state.DefaultPath(stateDir))
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating store: %w", err)
	}

	return db, cfg, nil
}
