package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/malja/domain"
)

var cmdLogs = &cobra.Command{
	Use:   "logs",
	Short: "Print the persisted warnings and errors",
	Long: `
The "logs" command prints the log entries the proxy stored in the database,
newest first: failed installs, missing offline pages, failing scope scripts and
rejected connections.
`,
	DisableAutoGenTag: true,
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogs(globalOptions.ConfigDir, logsOptions)
	},
}

// LogsOptions bundles all options for the logs command.
type LogsOptions struct {
	Levels []string
	Limit  int
	All    bool
}

var logsOptions LogsOptions

func init() {
	cmdRoot.AddCommand(cmdLogs)

	f := cmdLogs.Flags()
	f.StringSliceVar(&logsOptions.Levels, "level", nil, "only print entries with these levels, example: --level warn,error")
	f.IntVar(&logsOptions.Limit, "limit", 50, "maximum number of entries, 0 prints all")
	f.BoolVar(&logsOptions.All, "all", false, "print every entry oldest first, ignores --level and --limit")
}

func runLogs(configDir string, opts LogsOptions) error {
	_, repo, err := openRepo(configDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	var logs []*domain.Log
	if opts.All {
		logs, err = repo.GetLogs()
	} else {
		logs, err = repo.GetRecentLogs(opts.Limit, opts.Levels...)
	}
	if err != nil {
		return err
	}
	for _, log := range logs {
		fmt.Printf("%s %-5s %s", log.Timestamp.Format("2006-01-02 15:04:05"), log.Level, log.Message)
		if log.RequestID != nil {
			fmt.Printf(" request=%s", log.RequestID)
		}
		if len(log.Context) > 0 {
			fields, err := json.Marshal(log.Context)
			if err == nil {
				fmt.Printf(" %s", fields)
			}
		}
		fmt.Println()
	}
	return nil
}
