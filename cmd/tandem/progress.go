package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/pkg/models"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect the progress log",
	Long: `Read the append-only progress log and the status snapshot.

'progress status --field' exists for scripting: agents read single
fields like current_branch without parsing JSON.`,
}

var progressStatusField string

var progressStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status snapshot",
	Long: `Print the status snapshot as JSON, or a single field with --field.

Examples:
  tandem progress status
  tandem progress status --field current_branch
  tandem progress status --field features_completed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		status, err := db.GetStatus()
		if err != nil {
			return err
		}

		if progressStatusField == "" {
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		switch progressStatusField {
		case "project_name":
			fmt.Println(status.ProjectName)
		case "current_phase":
			fmt.Println(status.CurrentPhase)
		case "current_items":
			fmt.Println(strings.Join(status.CurrentItems, ","))
		case "current_branch":
			fmt.Println(status.CurrentBranch)
		case "features_completed":
			fmt.Println(status.FeaturesCompleted)
		case "features_passing":
			fmt.Println(status.FeaturesPassing)
		case "head_commit":
			fmt.Println(status.HeadCommit)
		default:
			return fmt.Errorf("unknown field %q", progressStatusField)
		}
		return nil
	},
}

var progressSessionsLimit int

var progressSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListSessions(progressSessionsLimit)
		if err != nil {
			return err
		}

		for _, s := range sessions {
			items := ""
			if len(s.ItemsTouched) > 0 {
				items = " " + strings.Join(s.ItemsTouched, ",")
			}
			fmt.Printf("#%d %s %s%s: %s\n", s.SessionID, s.AgentType, s.Outcome, items, s.Summary)
		}
		return nil
	},
}

var progressShowField string

var progressShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print one session record as JSON",
	Long: `Print one session record as JSON, or a single field with --field.
Nested fields use dots: commit_range.from, commit_range.to.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		session, err := db.GetSession(id)
		if err != nil {
			return err
		}

		if progressShowField != "" {
			return printSessionField(session, progressShowField)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	},
}

func printSessionField(s *models.Session, field string) error {
	switch field {
	case "session_id":
		fmt.Println(s.SessionID)
	case "agent_type":
		fmt.Println(s.AgentType)
	case "summary":
		fmt.Println(s.Summary)
	case "outcome":
		fmt.Println(s.Outcome)
	case "items_touched":
		fmt.Println(strings.Join(s.ItemsTouched, ","))
	case "started_at":
		fmt.Println(s.StartedAt.Format(time.RFC3339))
	case "completed_at":
		fmt.Println(s.CompletedAt.Format(time.RFC3339))
	case "commit_range.from":
		fmt.Println(s.CommitRange.From)
	case "commit_range.to":
		fmt.Println(s.CommitRange.To)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

var (
	progressAddPhase  string
	progressAddItems  []string
	progressAddBranch string
)

var progressAddSessionCmd = &cobra.Command{
	Use:   "add-session [file.json]",
	Short: "Append a session record",
	Long: `Append a session record and update the status snapshot in one
transaction. The record is read as JSON from the file argument, or from
stdin when no argument is given. The session ID is assigned by the log;
any ID in the input is ignored.

Flags override the status snapshot written alongside the record; fields
not overridden carry forward unchanged.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading session record: %w", err)
		}

		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("parsing session record: %w", err)
		}
		session.SessionID = 0
		if session.StartedAt.IsZero() {
			session.StartedAt = time.Now().UTC()
		}
		if session.CompletedAt.IsZero() {
			session.CompletedAt = time.Now().UTC()
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		status, err := db.GetStatus()
		if err != nil {
			return err
		}
		if progressAddPhase != "" {
			phase, err := models.ParseSessionType(progressAddPhase)
			if err != nil {
				return err
			}
			status.CurrentPhase = phase
		}
		if cmd.Flags().Changed("items") {
			status.CurrentItems = progressAddItems
		}
		if cmd.Flags().Changed("branch") {
			status.CurrentBranch = progressAddBranch
		}

		saved, err := db.AppendSession(&session, status)
		if err != nil {
			return err
		}
		fmt.Println(saved.SessionID)
		return nil
	},
}

var progressNextIDCmd = &cobra.Command{
	Use:   "next-id",
	Short: "Print the next session ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.NextSessionID()
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	progressStatusCmd.Flags().StringVar(&progressStatusField, "field", "", "Print a single status field")
	progressSessionsCmd.Flags().IntVar(&progressSessionsLimit, "limit", 10, "Maximum sessions to show (0 = all)")
	progressShowCmd.Flags().StringVar(&progressShowField, "field", "", "Print a single session field")
	progressAddSessionCmd.Flags().StringVar(&progressAddPhase, "phase", "", "Next phase to record in the status snapshot")
	progressAddSessionCmd.Flags().StringSliceVar(&progressAddItems, "items", nil, "Checked-out item IDs for the status snapshot")
	progressAddSessionCmd.Flags().StringVar(&progressAddBranch, "branch", "", "Current branch for the status snapshot")

	progressCmd.AddCommand(progressStatusCmd)
	progressCmd.AddCommand(progressSessionsCmd)
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressAddSessionCmd)
	progressCmd.AddCommand(progressNextIDCmd)
}
