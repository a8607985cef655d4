package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Manage the work ledger",
	Long: `Inspect and append to the work ledger.

Items are append-only: IDs are never reused, and a passing item can
only regress through 'work fail' with a reason. Agent sessions use
'work add' to register features and bugs they discover.`,
}

var (
	workAddKind        string
	workAddName        string
	workAddCategory    string
	workAddPriority    int
	workAddDescription string
	workAddSteps       []string
	workAddSource      string
)

var workAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a work item",
	Long: `Append one work item to the ledger.

Examples:
  tandem work add --kind feature --name "User login" --category auth --priority 10 \
    --step "Register a new account" --step "Log in with it"
  tandem work add --kind bug --name "Crash on empty input" --priority 1 \
    --step "Run with no arguments" --step "Observe panic"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.AppendItems([]state.ItemSpec{{
			Kind:        models.Kind(workAddKind),
			Priority:    workAddPriority,
			Category:    workAddCategory,
			Name:        workAddName,
			Description: workAddDescription,
			Steps:       workAddSteps,
			Source:      workAddSource,
		}})
		if err != nil {
			return err
		}

		fmt.Println(items[0].ID)
		return nil
	},
}

var workImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Append work items from a YAML file",
	Long: `Append every item in a YAML seed file to the ledger.

The file is a list of items:
  - kind: feature
    name: User login
    category: auth
    priority: 10
    steps:
      - Register a new account
      - Log in with it`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}

		var seeds []struct {
			Kind        string   `yaml:"kind"`
			Name        string   `yaml:"name"`
			Category    string   `yaml:"category"`
			Priority    int      `yaml:"priority"`
			Description string   `yaml:"description"`
			Steps       []string `yaml:"steps"`
		}
		if err := yaml.Unmarshal(data, &seeds); err != nil {
			return fmt.Errorf("parsing seed file: %w", err)
		}
		if len(seeds) == 0 {
			return fmt.Errorf("seed file %s contains no items", args[0])
		}

		specs := make([]state.ItemSpec, 0, len(seeds))
		for _, s := range seeds {
			specs = append(specs, state.ItemSpec{
				Kind:        models.Kind(s.Kind),
				Priority:    s.Priority,
				Category:    s.Category,
				Name:        s.Name,
				Description: s.Description,
				Steps:       s.Steps,
				Source:      args[0],
			})
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.AppendItems(specs)
		if err != nil {
			return err
		}

		for _, item := range items {
			fmt.Println(item.ID)
		}
		return nil
	},
}

var (
	workListKind    string
	workListPending bool
	workListPassing bool
)

var workListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work items",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		filter := state.ItemFilter{Kind: models.Kind(workListKind)}
		if workListPending {
			f := false
			filter.Passes = &f
		} else if workListPassing {
			t := true
			filter.Passes = &t
		}

		items, err := db.ListItems(filter)
		if err != nil {
			return err
		}

		for _, item := range items {
			mark := " "
			if item.Passes {
				mark = "✓"
			}
			line := fmt.Sprintf("%s %-9s p%-3d %s", mark, item.ID, item.Priority, item.Name)
			if item.Category != "" {
				line += fmt.Sprintf(" [%s]", item.Category)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var workShowCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show one work item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		item, err := db.GetItem(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s\n", item.ID, item.Name)
		fmt.Printf("  Kind: %s  Priority: %d", item.Kind, item.Priority)
		if item.Category != "" {
			fmt.Printf("  Category: %s", item.Category)
		}
		fmt.Println()
		if item.Description != "" {
			fmt.Printf("  %s\n", item.Description)
		}
		for _, step := range item.Steps {
			fmt.Printf("  - %s\n", step)
		}
		fmt.Printf("  Passes: %t\n", item.Passes)
		if item.Source != "" {
			fmt.Printf("  Source: %s\n", item.Source)
		}
		for _, h := range item.History {
			fmt.Printf("  history: %s\n", h)
		}
		return nil
	},
}

var workNextLimit int

var workNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next candidate items",
	Long:  `List pending items in selection order: bugs first, then priority, then ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		limit := workNextLimit
		if limit == 0 {
			limit = cfg.Loop.CandidateLimit
		}

		items, err := db.NextCandidates(limit)
		if err != nil {
			return err
		}

		for _, item := range items {
			fmt.Printf("%-9s p%-3d %s\n", item.ID, item.Priority, item.Name)
		}
		return nil
	},
}

var workNextIDKind string

var workNextIDCmd = &cobra.Command{
	Use:   "next-id",
	Short: "Print the next item ID for a kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.NextItemID(models.Kind(workNextIDKind))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var workStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show work ledger totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Total: %d  Passing: %d  Pending: %d\n", stats.Total, stats.Passing, stats.Pending)
		for _, kind := range []models.Kind{models.KindFeature, models.KindBug, models.KindDebt} {
			if n, ok := stats.ByKind[kind]; ok {
				fmt.Printf("  %-8s %d\n", kind, n)
			}
		}
		return nil
	},
}

var workPassCmd = &cobra.Command{
	Use:   "pass <item-id>...",
	Short: "Mark items passing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		for _, id := range args {
			if err := db.MarkPassing(id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Printf("%s passing\n", id)
		}
		return nil
	},
}

var workFailReason string

var workFailCmd = &cobra.Command{
	Use:   "fail <item-id>",
	Short: "Mark a passing item as regressed",
	Long: `Record a regression. The item returns to the pending pool and the
reason is appended to its history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(workFailReason) == "" {
			return state.ErrEmptyReason
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.MarkFailing(args[0], workFailReason); err != nil {
			return err
		}
		fmt.Printf("%s failed: %s\n", args[0], workFailReason)
		return nil
	},
}

var (
	workCheckoutBranch string
	workCheckoutMax    int
)

var workCheckoutCmd = &cobra.Command{
	Use:   "checkout <item-id>... --branch <branch>",
	Short: "Check out items onto a branch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		max := workCheckoutMax
		if max == 0 {
			max = cfg.Loop.BatchSize
		}

		co, err := db.CheckoutItems(args, workCheckoutBranch, max)
		if err != nil {
			return err
		}

		fmt.Println(co.Token)
		return nil
	},
}

var workReleaseCmd = &cobra.Command{
	Use:   "release <token|branch>",
	Short: "Release a checkout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		// Branch names contain a slash, tokens never do.
		if strings.Contains(args[0], "/") {
			return db.ReleaseBranch(args[0])
		}
		return db.ReleaseBatch(args[0])
	},
}

func init() {
	workAddCmd.Flags().StringVar(&workAddKind, "kind", "feature", "Item kind: feature, bug, or debt")
	workAddCmd.Flags().StringVar(&workAddName, "name", "", "Short item name")
	workAddCmd.Flags().StringVar(&workAddCategory, "category", "", "Category for batch grouping")
	workAddCmd.Flags().IntVar(&workAddPriority, "priority", 100, "Priority (lower runs earlier)")
	workAddCmd.Flags().StringVar(&workAddDescription, "description", "", "Longer description")
	workAddCmd.Flags().StringArrayVar(&workAddSteps, "step", nil, "Acceptance step (repeatable)")
	workAddCmd.Flags().StringVar(&workAddSource, "source", "", "Provenance of the item")
	workAddCmd.MarkFlagRequired("name")

	workListCmd.Flags().StringVar(&workListKind, "kind", "", "Filter by kind")
	workListCmd.Flags().BoolVar(&workListPending, "pending", false, "Only pending items")
	workListCmd.Flags().BoolVar(&workListPassing, "passing", false, "Only passing items")

	workNextCmd.Flags().IntVar(&workNextLimit, "limit", 0, "Maximum candidates to show (default from config)")
	workNextIDCmd.Flags().StringVar(&workNextIDKind, "kind", "feature", "Item kind to peek")

	workFailCmd.Flags().StringVar(&workFailReason, "reason", "", "Why the item regressed")
	workFailCmd.MarkFlagRequired("reason")

	workCheckoutCmd.Flags().StringVar(&workCheckoutBranch, "branch", "", "Branch to hold the items")
	workCheckoutCmd.Flags().IntVar(&workCheckoutMax, "max", 0, "Batch size cap (default from config)")
	workCheckoutCmd.MarkFlagRequired("branch")

	workCmd.AddCommand(workAddCmd)
	workCmd.AddCommand(workImportCmd)
	workCmd.AddCommand(workListCmd)
	workCmd.AddCommand(workShowCmd)
	workCmd.AddCommand(workNextCmd)
	workCmd.AddCommand(workNextIDCmd)
	workCmd.AddCommand(workStatsCmd)
	workCmd.AddCommand(workPassCmd)
	workCmd.AddCommand(workFailCmd)
	workCmd.AddCommand(workCheckoutCmd)
	workCmd.AddCommand(workReleaseCmd)
}
