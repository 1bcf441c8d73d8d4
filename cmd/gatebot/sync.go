package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sglre6355/gatebot/internal/bot"
	"github.com/sglre6355/gatebot/internal/commandsync"
	"github.com/spf13/cobra"
)

var dryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile registered commands with the loaded definitions",
	Long: `Fetches the registered application commands, compares them with the
definitions of every module and applies the differences.

With --dry-run the differences are printed but not applied.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print pending changes without applying them")
}

func runSync(cmd *cobra.Command, _ []string) (err error) {
	b, err := bot.NewBot(cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := b.Stop(); err == nil {
			err = stopErr
		}
	}()

	b.LoadModules()
	if err := b.Prepare(); err != nil {
		return err
	}

	report, err := b.Resync(cmd.Context(), dryRun)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d command mutations failed", len(report.Failures))
	}
	return nil
}

func printReport(w io.Writer, report *commandsync.Report) {
	for _, diff := range report.Diffs {
		if diff.Empty() {
			fmt.Fprintf(w, "%s: up to date\n", diff.Scope)
			continue
		}
		fmt.Fprintf(w, "%s:\n", diff.Scope)
		for _, c := range diff.Create {
			fmt.Fprintf(w, "  + %s\n", c.Name)
		}
		for _, u := range diff.Update {
			fmt.Fprintf(w, "  ~ %s (%s)\n", u.Name, strings.Join(u.Fields, ", "))
		}
		for _, d := range diff.Delete {
			fmt.Fprintf(w, "  - %s\n", d.Name)
		}
	}

	if report.DryRun {
		fmt.Fprintln(w, "dry run, nothing applied")
		return
	}
	fmt.Fprintf(w, "created %d, updated %d, deleted %d, failed %d\n",
		len(report.Created), len(report.Updated), len(report.Deleted), len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  ! %v\n", f)
	}
}
