package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/verification"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Inspect verification evidence",
	Long: `Inspect the per-session verification bundles under the state
directory. A session counts as verified only when its verification.md
carries a VERIFIED status line.`,
}

func openGate() (*verification.Gate, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	workDir, err := filepath.Abs(rootTarget)
	if err != nil {
		return nil, err
	}
	return verification.NewGate(filepath.Join(cfg.StateDir(workDir), "verification")), nil
}

var verifyStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Print the verification status for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}

		gate, err := openGate()
		if err != nil {
			return err
		}

		status, err := gate.StatusFor(id)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var verifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List verification bundles",
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := openGate()
		if err != nil {
			return err
		}

		records, err := gate.List()
		if err != nil {
			return err
		}

		for _, r := range records {
			line := fmt.Sprintf("#%d %s", r.SessionID, r.Status)
			if r.Screenshots > 0 {
				line += fmt.Sprintf(" (%d screenshots)", r.Screenshots)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var verifyDirCmd = &cobra.Command{
	Use:   "dir <session-id>",
	Short: "Print the evidence directory for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}

		gate, err := openGate()
		if err != nil {
			return err
		}
		fmt.Println(gate.SessionDir(id))
		return nil
	},
}

var verifyPrepareCmd = &cobra.Command{
	Use:   "prepare <session-id> [item-id...]",
	Short: "Write the verification input bundle for a session",
	Long: `Create the session's evidence directory and write its
verification_input.json. Items default to the currently checked-out
batch when none are named.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}

		db, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		status, err := db.GetStatus()
		if err != nil {
			return err
		}

		ids := args[1:]
		if len(ids) == 0 {
			ids = status.CurrentItems
		}
		items := make([]models.WorkItem, 0, len(ids))
		for _, itemID := range ids {
			item, err := db.GetItem(itemID)
			if err != nil {
				return err
			}
			items = append(items, *item)
		}

		workDir, err := filepath.Abs(rootTarget)
		if err != nil {
			return err
		}
		gate := verification.NewGate(filepath.Join(cfg.StateDir(workDir), "verification"))
		if _, err := gate.Prepare(id, status.CurrentPhase, items); err != nil {
			return err
		}
		fmt.Println(gate.SessionDir(id))
		return nil
	},
}

var verifyAwaitTimeout time.Duration

var verifyAwaitCmd = &cobra.Command{
	Use:   "await <session-id>",
	Short: "Block until a verification report lands",
	Long: `Wait for the session's verification.md to be written, then print
the resulting status. Intended for external verifiers running alongside
the loop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}

		gate, err := openGate()
		if err != nil {
			return err
		}

		ctx := context.Background()
		if verifyAwaitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, verifyAwaitTimeout)
			defer cancel()
		}

		status, err := gate.Await(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

func init() {
	verifyAwaitCmd.Flags().DurationVar(&verifyAwaitTimeout, "timeout", 0, "Give up after this long (0 = wait forever)")

	verifyCmd.AddCommand(verifyPrepareCmd)
	verifyCmd.AddCommand(verifyStatusCmd)
	verifyCmd.AddCommand(verifyListCmd)
	verifyCmd.AddCommand(verifyDirCmd)
	verifyCmd.AddCommand(verifyAwaitCmd)
}
