package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loop progress",
	Long: `Display the current state of the orchestration loop.

Shows:
  - Project name and next phase
  - Items currently checked out and their branch
  - Work ledger counts by kind
  - Recent sessions and the last review verdict`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.GetStatus()
	if err != nil {
		if errors.Is(err, state.ErrNotInitialized) {
			fmt.Println("Not initialized. Run 'tandem init' first.")
			return nil
		}
		return fmt.Errorf("get status: %w", err)
	}

	displayStatus(db, status)

	stats, err := db.Stats()
	if err != nil {
		return fmt.Errorf("ledger stats: %w", err)
	}
	displayStats(stats)

	if review, err := db.GetLastReview(); err == nil {
		displayLastReview(db, review)
	}

	fmt.Println()
	return displayRecentSessions(db)
}

func displayStatus(db *state.DB, s *models.Status) {
	fmt.Printf("Project: %s\n", s.ProjectName)
	fmt.Printf("  Next phase: %s\n", phaseColor(s.CurrentPhase).Sprint(string(s.CurrentPhase)))
	if len(s.CurrentItems) > 0 {
		fmt.Printf("  Checked out: %s on %s\n", strings.Join(s.CurrentItems, ", "), s.CurrentBranch)
	}
	fmt.Printf("  Features completed: %d\n", s.FeaturesCompleted)
	fmt.Printf("  Updated: %s ago\n", formatDuration(time.Since(s.UpdatedAt)))
	if s.HeadCommit != "" {
		fmt.Printf("  Head: %s\n", s.HeadCommit)
	}
}

func displayStats(stats *state.Stats) {
	fmt.Println()
	fmt.Printf("Work ledger: %d items, %d passing, %d pending\n",
		stats.Total, stats.Passing, stats.Pending)
	for _, kind := range []models.Kind{models.KindFeature, models.KindBug, models.KindDebt} {
		if n := stats.ByKind[kind]; n > 0 {
			fmt.Printf("  %s: %d\n", kind, n)
		}
	}
}

func displayLastReview(db *state.DB, review *models.Review) {
	fixes, _ := db.FixCount(review.Branch)

	verdict := string(review.Verdict)
	if review.Forced {
		verdict += " (forced)"
	}

	fmt.Println()
	fmt.Printf("Last review: #%d on %s\n", review.ReviewID, review.Branch)
	fmt.Printf("  Verdict: %s\n", verdictColor(review.Verdict).Sprint(verdict))
	if len(review.Issues) > 0 {
		fmt.Printf("  Issues: %d (%d blocking)\n", len(review.Issues), len(review.BlockingIssues()))
	}
	if fixes > 0 {
		fmt.Printf("  Fix attempts on branch: %d\n", fixes)
	}
}

func displayRecentSessions(db *state.DB) error {
	sessions, err := db.ListSessions(5)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Run 'tandem run' to start.")
		return nil
	}

	fmt.Println("Recent sessions:")
	for _, s := range sessions {
		elapsed := formatDuration(time.Since(s.CompletedAt))
		fmt.Printf("  #%d %s: %s (%s ago)\n", s.SessionID, s.AgentType, s.Outcome, elapsed)
	}

	return nil
}

func phaseColor(t models.SessionType) *color.Color {
	switch t {
	case models.SessionReview, models.SessionArchitecture:
		return color.New(color.FgYellow)
	case models.SessionFix:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgCyan)
	}
}

func verdictColor(v models.Verdict) *color.Color {
	switch v {
	case models.VerdictApprove, models.VerdictPassWithComments:
		return color.New(color.FgGreen)
	case models.VerdictReject:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
