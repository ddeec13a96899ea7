package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/audit"
)

func newRunsCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent merge runs from the audit journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.DatabaseEnabled() {
				return fmt.Errorf("the audit journal is not configured (set DB_HOST)")
			}

			ctx := cmd.Context()
			db, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := audit.NewRepository(db, a.logger).ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range runs {
				mode := "live"
				if r.DryRun {
					mode = "dry-run"
				}
				s := r.Summary.Data
				fmt.Fprintf(out, "%s  %s  %-9s %-7s groups=%d merged=%d failures=%d\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, mode, s.Groups, s.PairsMerged, s.Failures)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
