package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/grouping"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
)

func newGroupsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List duplicate groups and their elected survivors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			rules, err := config.LoadRules(a.cfg.RulesFile)
			if err != nil {
				return err
			}
			store, err := a.newStore()
			if err != nil {
				return err
			}

			snapshot, err := loader.NewLoader(store, a.cfg.ActivityLimit, a.logger).Load(ctx)
			if err != nil {
				return err
			}
			result, err := grouping.NewExactNameStrategy(rules, a.logger).Group(ctx, snapshot)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printer := report.NewPrinter(out, true)
			printer.Excluded(result.Excluded)
			printer.Found(len(result.Groups), result.Records())

			for _, g := range result.Groups {
				if g.Kind == models.GroupKindPlaceholder {
					fmt.Fprintf(out, "  [%s] %s: %d records\n", g.Kind, g.Key, g.Size())
					continue
				}
				survivor, losers := merging.Elect(snapshot, g.Members, rules.Tiebreak)
				fmt.Fprintf(out, "  [%s] %s: keep #%d (%d activities, %d contacts), merge %v\n",
					g.Kind, g.Key, survivor.ID,
					len(snapshot.ActivitiesOf(survivor.ID)), len(snapshot.ContactsOf(survivor.ID)),
					prospectIDs(losers))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("rules", "", "YAML merge rules file (defaults are built in)")
	a.bind(cmd, "rules_file", "rules")

	return cmd
}

func prospectIDs(prospects []models.Prospect) []int64 {
	ids := make([]int64, len(prospects))
	for i, p := range prospects {
		ids[i] = p.ID
	}
	return ids
}
