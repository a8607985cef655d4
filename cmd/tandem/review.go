package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/orchestrator"
	"github.com/ShayCichocki/tandem/internal/verification"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manage the review ledger",
	Long: `Record and inspect review verdicts and fix attempts.

'review add' settles its verdict through the same policy as the loop:
an approval without verified evidence is downgraded, and a branch at
the retry ceiling is forced to a terminal verdict.`,
}

var (
	reviewAddVerdict    string
	reviewAddSummary    string
	reviewAddIssues     []string
	reviewAddCommitFrom string
	reviewAddCommitTo   string
)

var reviewAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a review verdict for the current branch",
	Long: `Record a review verdict against the currently checked-out items.

Issues are severity:description pairs; severity is one of critical,
major, minor, suggestion.

Examples:
  tandem review add --verdict APPROVE --summary "All acceptance steps pass"
  tandem review add --verdict REQUEST_CHANGES --summary "Login broken" \
    --issue "major:login returns 500 on empty password"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		status, err := db.GetStatus()
		if err != nil {
			return err
		}

		agentType := models.SessionReview
		if status.CurrentPhase == models.SessionArchitecture {
			agentType = models.SessionArchitecture
		}

		issues, err := parseIssues(reviewAddIssues)
		if err != nil {
			return err
		}

		review := &models.Review{
			AgentType: agentType,
			ItemIDs:   status.CurrentItems,
			Branch:    status.CurrentBranch,
			Verdict:   models.Verdict(reviewAddVerdict),
			Issues:    issues,
			Summary:   reviewAddSummary,
			CommitRange: models.CommitRange{
				From: reviewAddCommitFrom,
				To:   reviewAddCommitTo,
			},
		}

		workDir, err := filepath.Abs(rootTarget)
		if err != nil {
			return err
		}
		gate := verification.NewGate(filepath.Join(cfg.StateDir(workDir), "verification"))
		gateStatus, err := orchestrator.GateStatusForReview(db, gate)
		if err != nil {
			return err
		}

		policy := orchestrator.Policy{
			ArchitectureInterval: cfg.Loop.ArchitectureInterval,
			BatchSize:            cfg.Loop.BatchSize,
			RetryCeiling:         cfg.Loop.RetryCeiling,
			MainBranch:           cfg.Loop.MainBranch,
		}

		settled, err := orchestrator.RecordReview(db, policy, review, gateStatus)
		if err != nil {
			return err
		}

		if settled.Verdict != review.Verdict {
			fmt.Printf("review %d: %s (settled from %s, verification %s)\n",
				settled.ReviewID, settled.Verdict, reviewAddVerdict, gateStatus)
		} else {
			fmt.Printf("review %d: %s\n", settled.ReviewID, settled.Verdict)
		}
		return nil
	},
}

var (
	reviewFixReview   int64
	reviewFixFixed    []string
	reviewFixDeferred []string
	reviewFixTests    []string
)

var reviewFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Record a fix attempt against a review",
	Long: `Record which issues of a review were addressed.

Example:
  tandem review fix --review 4 --fixed I1 --fixed I2 --deferred I3 --test TestLoginEmptyPassword`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		review, err := db.GetReview(reviewFixReview)
		if err != nil {
			return err
		}

		status, err := db.GetStatus()
		if err != nil {
			return err
		}

		fix, err := db.AddFix(&models.Fix{
			ReviewID:       review.ReviewID,
			ItemIDs:        status.CurrentItems,
			Branch:         review.Branch,
			IssuesFixed:    reviewFixFixed,
			IssuesDeferred: reviewFixDeferred,
			TestsAdded:     reviewFixTests,
		})
		if err != nil {
			return err
		}

		fmt.Printf("fix %d recorded against review %d\n", fix.FixID, review.ReviewID)
		return nil
	},
}

var reviewListLimit int

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		reviews, err := db.ListReviews(reviewListLimit)
		if err != nil {
			return err
		}

		for _, r := range reviews {
			forced := ""
			if r.Forced {
				forced = " forced"
			}
			fmt.Printf("#%d %s %s%s (%d issues) %s\n",
				r.ReviewID, r.Branch, r.Verdict, forced, len(r.Issues), r.Summary)
		}
		return nil
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show one review with its issues and fixes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid review id %q", args[0])
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := db.GetReview(id)
		if err != nil {
			return err
		}

		fmt.Printf("review %d: %s on %s\n", r.ReviewID, r.Verdict, r.Branch)
		fmt.Printf("  %s\n", r.Summary)
		if len(r.ItemIDs) > 0 {
			fmt.Printf("  items: %s\n", strings.Join(r.ItemIDs, ", "))
		}
		for _, issue := range r.Issues {
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.ID, issue.Description)
		}

		fixes, err := db.ListFixes(r.ReviewID)
		if err != nil {
			return err
		}
		for _, f := range fixes {
			fmt.Printf("  fix %d: fixed %s", f.FixID, strings.Join(f.IssuesFixed, ","))
			if len(f.IssuesDeferred) > 0 {
				fmt.Printf(" deferred %s", strings.Join(f.IssuesDeferred, ","))
			}
			fmt.Println()
		}
		return nil
	},
}

var reviewLastField string

var reviewLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Print the most recent review as JSON",
	Long: `Print the most recent review as JSON, or a single field with --field.
Nested fields use dots: commit_range.from, commit_range.to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := db.GetLastReview()
		if err != nil {
			return err
		}

		if reviewLastField != "" {
			return printReviewField(r, reviewLastField)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	},
}

func printReviewField(r *models.Review, field string) error {
	switch field {
	case "review_id":
		fmt.Println(r.ReviewID)
	case "agent_type":
		fmt.Println(r.AgentType)
	case "verdict":
		fmt.Println(r.Verdict)
	case "branch":
		fmt.Println(r.Branch)
	case "summary":
		fmt.Println(r.Summary)
	case "item_ids":
		fmt.Println(strings.Join(r.ItemIDs, ","))
	case "forced":
		fmt.Println(r.Forced)
	case "commit_range.from":
		fmt.Println(r.CommitRange.From)
	case "commit_range.to":
		fmt.Println(r.CommitRange.To)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

var reviewFixCountCmd = &cobra.Command{
	Use:   "fix-count <branch>",
	Short: "Count fix attempts recorded for a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.FixCount(args[0])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var reviewIssuesCmd = &cobra.Command{
	Use:   "issues <review-id>",
	Short: "Show a review's open issues grouped by severity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid review id %q", args[0])
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := db.GetReview(id)
		if err != nil {
			return err
		}

		if len(r.Issues) == 0 {
			fmt.Println("no issues")
			return nil
		}
		order := []models.Severity{
			models.SeverityCritical,
			models.SeverityMajor,
			models.SeverityMinor,
			models.SeveritySuggestion,
		}
		for _, sev := range order {
			var group []models.Issue
			for _, issue := range r.Issues {
				if issue.Severity == sev {
					group = append(group, issue)
				}
			}
			if len(group) == 0 {
				continue
			}
			fmt.Printf("%s:\n", sev)
			for _, issue := range group {
				fmt.Printf("  %s: %s\n", issue.ID, issue.Description)
				if issue.Location != "" {
					fmt.Printf("      at %s\n", issue.Location)
				}
			}
		}
		return nil
	},
}

// parseIssues turns severity:description flags into Issue records with
// sequential IDs.
func parseIssues(raw []string) ([]models.Issue, error) {
	var issues []models.Issue
	for i, s := range raw {
		severity, description, ok := strings.Cut(s, ":")
		if !ok || strings.TrimSpace(description) == "" {
			return nil, fmt.Errorf("issue %q: want severity:description", s)
		}
		sev := models.Severity(strings.TrimSpace(severity))
		if !sev.Valid() {
			return nil, fmt.Errorf("issue %q: unknown severity %q", s, severity)
		}
		issues = append(issues, models.Issue{
			ID:          fmt.Sprintf("I%d", i+1),
			Severity:    sev,
			Description: strings.TrimSpace(description),
		})
	}
	return issues, nil
}

func init() {
	reviewAddCmd.Flags().StringVar(&reviewAddVerdict, "verdict", "", "APPROVE, PASS_WITH_COMMENTS, REQUEST_CHANGES, or REJECT")
	reviewAddCmd.Flags().StringVar(&reviewAddSummary, "summary", "", "Review summary")
	reviewAddCmd.Flags().StringArrayVar(&reviewAddIssues, "issue", nil, "Issue as severity:description (repeatable)")
	reviewAddCmd.Flags().StringVar(&reviewAddCommitFrom, "commit-from", "", "First commit reviewed")
	reviewAddCmd.Flags().StringVar(&reviewAddCommitTo, "commit-to", "", "Last commit reviewed")
	reviewAddCmd.MarkFlagRequired("verdict")
	reviewAddCmd.MarkFlagRequired("summary")

	reviewFixCmd.Flags().Int64Var(&reviewFixReview, "review", 0, "Review the fix addresses")
	reviewFixCmd.Flags().StringArrayVar(&reviewFixFixed, "fixed", nil, "Issue ID that was fixed (repeatable)")
	reviewFixCmd.Flags().StringArrayVar(&reviewFixDeferred, "deferred", nil, "Issue ID deliberately left open (repeatable)")
	reviewFixCmd.Flags().StringArrayVar(&reviewFixTests, "test", nil, "Test added while fixing (repeatable)")
	reviewFixCmd.MarkFlagRequired("review")

	reviewListCmd.Flags().IntVar(&reviewListLimit, "limit", 10, "Maximum reviews to show (0 = all)")
	reviewLastCmd.Flags().StringVar(&reviewLastField, "field", "", "Print a single review field")

	reviewCmd.AddCommand(reviewAddCmd)
	reviewCmd.AddCommand(reviewFixCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewIssuesCmd)
	reviewCmd.AddCommand(reviewLastCmd)
	reviewCmd.AddCommand(reviewFixCountCmd)
}
