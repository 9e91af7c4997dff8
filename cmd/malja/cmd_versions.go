package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cmdVersions = &cobra.Command{
	Use:   "versions",
	Short: "List the worker versions",
	Long: `
The "versions" command lists every registered worker version with its cache
store, offline path and lifecycle state.
`,
	DisableAutoGenTag: true,
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersions(globalOptions.ConfigDir)
	},
}

func init() {
	cmdRoot.AddCommand(cmdVersions)
}

func runVersions(configDir string) error {
	_, repo, err := openRepo(configDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	versions, err := repo.GetVersions()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tCACHE\tPATH\tORIGIN\tUPDATED")
	for _, v := range versions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.State, v.CacheName, v.OfflinePath, v.Origin, v.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
