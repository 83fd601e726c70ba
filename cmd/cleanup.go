package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/output"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Archive stale closed issues and purge old activity",
	Long: `Archive (soft-delete) closed issues that have not been updated for --days
days. With --purge-activities, activity records older than the same cutoff
are deleted permanently.

Asks for confirmation unless --yes or --dry-run is given.`,
	GroupID: "admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		purge, _ := cmd.Flags().GetBool("purge-activities")
		yes, _ := cmd.Flags().GetBool("yes")

		opts := cleanupOptions{Days: days, DryRun: dryRun, PurgeActivities: purge}
		if err := opts.validate(); err != nil {
			output.Error("%v", err)
			return err
		}

		if !dryRun && !yes {
			ok, err := confirmCleanup(opts)
			if err != nil {
				return err
			}
			if !ok {
				output.Warning("Cleanup cancelled")
				return nil
			}
		}

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		res, err := runCleanup(contextOrBackground(cmd), database, opts, time.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		printCleanup(opts, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().Int("days", 90, "Age in days after which records are cleaned up")
	cleanupCmd.Flags().Bool("dry-run", false, "Only report what would be cleaned up")
	cleanupCmd.Flags().Bool("purge-activities", false, "Also delete activity records older than the cutoff")
	cleanupCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}

type cleanupOptions struct {
	Days            int
	DryRun          bool
	PurgeActivities bool
}

func (o cleanupOptions) validate() error {
	if o.Days < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", o.Days)
	}
	return nil
}

type cleanupResult struct {
	Cutoff           time.Time
	ArchivedIssues   int
	PurgedActivities int
}

// runCleanup archives closed issues last updated before now minus
// opts.Days and optionally purges older activities, in one transaction.
func runCleanup(ctx context.Context, database *db.DB, opts cleanupOptions, now time.Time) (*cleanupResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	res := &cleanupResult{Cutoff: now.UTC().AddDate(0, 0, -opts.Days)}
	err := database.WithTx(ctx, func(tx *db.Queries) error {
		n, err := tx.ArchiveClosedIssues(ctx, res.Cutoff, opts.DryRun, now)
		if err != nil {
			return err
		}
		res.ArchivedIssues = n
		if opts.PurgeActivities {
			n, err := tx.DeleteActivitiesBefore(ctx, res.Cutoff, opts.DryRun)
			if err != nil {
				return err
			}
			res.PurgedActivities = n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	logger.Info("cleanup", "cutoff", res.Cutoff, "dry_run", opts.DryRun,
		"archived_issues", res.ArchivedIssues, "purged_activities", res.PurgedActivities)
	return res, nil
}

func confirmCleanup(opts cleanupOptions) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("stdin is not a terminal: pass --yes to run cleanup non-interactively")
	}
	desc := fmt.Sprintf("Closed issues untouched for %d days will be archived.", opts.Days)
	if opts.PurgeActivities {
		desc += fmt.Sprintf("\nActivity older than %d days will be deleted permanently.", opts.Days)
	}
	var ok bool
	err := huh.NewConfirm().
		Title("Run cleanup?").
		Description(desc).
		Affirmative("Run").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}

func printCleanup(opts cleanupOptions, res *cleanupResult) {
	verb := "Archived"
	if opts.DryRun {
		verb = "Would archive"
	}
	output.Success("%s %d closed issue(s) last updated before %s", verb, res.ArchivedIssues, res.Cutoff.Format("2006-01-02"))
	if opts.PurgeActivities {
		verb = "Purged"
		if opts.DryRun {
			verb = "Would purge"
		}
		output.Success("%s %d activity record(s)", verb, res.PurgedActivities)
	}
}
