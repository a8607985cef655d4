package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/runner"
	"github.com/ShayCichocki/tandem/internal/state"
)

var (
	initBrownfield     bool
	initProjectName    string
	initNoGit          bool
	initWithConfig     bool
	initSkipAgentCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a Tandem work target",
	Long: `Initialize a directory for use with Tandem.

This command sets up everything needed to run the loop:
  - Verifies prerequisites (git, agent CLI)
  - Initializes git repository if needed
  - Creates the .tandem coordination store
  - Records the initial status snapshot

For existing codebases, pass --brownfield so the first session studies
the code before appending work items instead of scaffolding a project.

Examples:
  tandem init              # Initialize current directory
  tandem init ./myproject  # Initialize specific directory
  tandem init --brownfield # Existing codebase, append-only intake
  tandem init --no-git     # Skip git initialization`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initBrownfield, "brownfield", false, "Target is an existing codebase")
	initCmd.Flags().StringVar(&initProjectName, "project-name", "", "Override auto-detected project name")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Create a .tandem.yaml template")
	initCmd.Flags().BoolVar(&initSkipAgentCheck, "skip-agent-check", false, "Skip agent CLI availability check")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := rootTarget
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing Tandem in %s...\n\n", absPath)

	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	if !initSkipAgentCheck {
		if err := runner.NewCLIRunner("", nil).CheckCLI(); err != nil {
			printStatus("✗", "Agent CLI not found", color.FgRed)
			return err
		}
		printStatus("✓", "Agent CLI found", color.FgGreen)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (required for the api runner)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	stateDir := cfg.StateDir(absPath)
	db, err := state.Open(state.DefaultPath(stateDir))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	printStatus("✓", "Created coordination store", color.FgGreen)

	projectName := initProjectName
	if projectName == "" {
		projectName = detectProjectName(absPath)
	}

	if _, err := db.InitProgress(projectName, initBrownfield); err != nil {
		if errors.Is(err, state.ErrAlreadyInitialized) {
			printStatus("⚠", "Store already initialized; keeping existing progress", color.FgYellow)
		} else {
			return fmt.Errorf("initializing progress: %w", err)
		}
	} else if initBrownfield {
		printStatus("✓", "Recorded initial status (brownfield intake)", color.FgGreen)
	} else {
		printStatus("✓", "Recorded initial status", color.FgGreen)
	}

	if !initNoGit {
		if err := updateGitignore(absPath, cfg.State.Dir); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with Tandem entries", color.FgGreen)
	}

	if initWithConfig {
		if err := createProjectConfig(absPath); err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		printStatus("✓", "Created .tandem.yaml template", color.FgGreen)
	}

	fmt.Printf("\n%s Tandem initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	if apiKey == "" {
		fmt.Println("  1. Set your API key (api runner only):")
		fmt.Println("     export ANTHROPIC_API_KEY=your-key-here")
		fmt.Println()
	}
	fmt.Println("  2. Start the loop:")
	fmt.Println("     tandem run --brief \"what to build\"")
	fmt.Println()
	fmt.Println("  3. Learn more:")
	fmt.Println("     tandem --help")
	fmt.Println()
	fmt.Println("Project details:")
	fmt.Printf("  Project name: %s\n", projectName)
	fmt.Printf("  Work target: %s\n", absPath)
	fmt.Printf("  Store: %s\n", state.DefaultPath(stateDir))

	return nil
}

// checkGitInstalled checks if git is installed
func checkGitInstalled() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"Tandem requires git to manage branches and commits.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// initGitRepo initializes a git repository with at least one commit on main.
func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %s\n%s", err, string(output))
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}

	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return fmt.Errorf("creating initial commit: %w", err)
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	} else {
		printStatus("✓", "Git repository has commits", color.FgGreen)
	}

	if err := ensureMainBranch(repoPath); err != nil {
		return fmt.Errorf("ensuring main branch: %w", err)
	}
	printStatus("✓", "Main branch exists", color.FgGreen)

	return nil
}

// hasAnyCommits checks if the repository has any commits
func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit code 128 typically means no commits
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-list failed: %s", string(output))
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ensureInitialCommit creates an initial commit if needed
func ensureInitialCommit(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		content := "# Tandem\n.tandem/\ntandem\n"
		if err := os.WriteFile(gitignorePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("creating .gitignore: %w", err)
		}
	}

	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s\n%s", err, string(output))
	}

	return nil
}

// ensureMainBranch ensures the primary branch is named "main".
// If "master" exists but "main" doesn't, renames master to main so
// branch naming stays consistent across targets.
func ensureMainBranch(repoPath string) error {
	mainCmd := exec.Command("git", "rev-parse", "--verify", "main")
	mainCmd.Dir = repoPath
	if err := mainCmd.Run(); err == nil {
		return nil
	}

	renameCmd := exec.Command("git", "branch", "-M", "main")
	renameCmd.Dir = repoPath
	if output, err := renameCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating main branch: %s\n%s", err, string(output))
	}

	return nil
}

// updateGitignore adds Tandem entries to .gitignore if not present
func updateGitignore(repoPath, stateDir string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	entries := []string{
		stateDir + "/",
		"tandem",
	}

	needsUpdate := false
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}

	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)

	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}

	newContent.WriteString("\n# Tandem\n")
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// createProjectConfig creates a .tandem.yaml template
func createProjectConfig(repoPath string) error {
	configPath := filepath.Join(repoPath, ".tandem.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil // Already exists, don't overwrite
	}

	template := `# Tandem Project Configuration
# This file overrides defaults from ~/.config/tandem/config.yaml

# runner:
#   mode: cli

# loop:
#   architecture_interval: 5
#   batch_size: 3
#   retry_ceiling: 3
#   session_timeout: 45m
#   main_branch: main

# models:
#   default: ""
#   review: ""
`

	return os.WriteFile(configPath, []byte(template), 0644)
}

// detectProjectName detects project name from directory
func detectProjectName(repoPath string) string {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	cmd.Dir = repoPath
	if output, err := cmd.Output(); err == nil {
		url := strings.TrimSpace(string(output))
		url = strings.TrimSuffix(url, ".git")
		parts := strings.Split(url, "/")
		if len(parts) > 0 && parts[len(parts)-1] != "" {
			return parts[len(parts)-1]
		}
	}

	return filepath.Base(repoPath)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
