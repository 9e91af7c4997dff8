package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var cmdInstall = &cobra.Command{
	Use:   "install",
	Short: "Install the configured worker without serving",
	Long: `
The "install" command fetches the offline page into the configured cache store
and activates the new version. A matching active version is reused.

EXIT STATUS
===========

Exit status is 0 if a version is active, and non-zero if the install failed.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runInstall(ctx, globalOptions.ConfigDir, installOptions)
	},
}

// InstallOptions bundles all options for the install command.
type InstallOptions struct {
	Retry bool
}

var installOptions InstallOptions

func init() {
	cmdRoot.AddCommand(cmdInstall)

	f := cmdInstall.Flags()
	f.BoolVar(&installOptions.Retry, "retry", false, "retry failed installs with the install_retry settings")
}

func runInstall(ctx context.Context, configDir string, opts InstallOptions) error {
	proxy, err := openProxy(configDir)
	if err != nil {
		return err
	}
	defer proxy.Repo.Close()

	register := proxy.Register
	if opts.Retry {
		register = proxy.RegisterWithRetry
	}
	version, err := register(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("version %s %s: %s in %q\n", version.ID, version.State, version.OfflinePath, version.CacheName)
	return nil
}
