package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/malja/domain"
)

var cmdStats = &cobra.Command{
	Use:   "stats",
	Short: "Show navigation statistics",
	Long: `
The "stats" command shows how many navigations were answered by the network,
by the offline page, or with the miss page, and the most recent ones.
`,
	DisableAutoGenTag: true,
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(globalOptions.ConfigDir, statsOptions)
	},
}

// StatsOptions bundles all options for the stats command.
type StatsOptions struct {
	Recent int
}

var statsOptions StatsOptions

func init() {
	cmdRoot.AddCommand(cmdStats)

	f := cmdStats.Flags()
	f.IntVar(&statsOptions.Recent, "recent", 10, "number of recent navigations to print")
}

func runStats(configDir string, opts StatsOptions) error {
	_, repo, err := openRepo(configDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	total, err := repo.CountNavigations()
	if err != nil {
		return err
	}
	entries, err := repo.CountCacheEntries()
	if err != nil {
		return err
	}
	fmt.Printf("navigations: %d\n", total)
	for _, outcome := range []domain.NavigationOutcome{domain.OutcomeNetwork, domain.OutcomeOffline, domain.OutcomeMiss} {
		count, err := repo.CountByOutcome(outcome)
		if err != nil {
			return err
		}
		fmt.Printf("  %-8s %d\n", outcome, count)
	}
	fmt.Printf("cache entries: %d\n", entries)

	if opts.Recent <= 0 {
		return nil
	}
	navigations, err := repo.GetNavigations(opts.Recent)
	if err != nil {
		return err
	}
	if len(navigations) > 0 {
		fmt.Println("recent:")
	}
	for _, n := range navigations {
		fmt.Printf("  %s %-8s %s", n.RequestedAt.Format("2006-01-02 15:04:05"), n.Outcome, n.URL)
		if n.Error != "" {
			fmt.Printf(" (%s)", n.Error)
		}
		fmt.Println()
	}
	return nil
}
