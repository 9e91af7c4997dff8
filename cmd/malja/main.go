package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/malja"
	"github.com/tfkr-ae/malja/db"
)

var version = "0.1.0"

// cmdRoot is the base command when no other command has been specified.
var cmdRoot = &cobra.Command{
	Use:   "malja",
	Short: "Serve an offline page for navigations when the network is down",
	Long: `
malja is a forward proxy that caches one offline page per worker version and
answers page navigations with it whenever the upstream fetch fails.

Point the browser at the proxy, install the CA served on http://malja.cert/ and
run "malja serve".
`,
	Version:           version,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(0)
	},
}

// GlobalOptions holds the options shared by all commands.
type GlobalOptions struct {
	ConfigDir string
}

var globalOptions GlobalOptions

func init() {
	f := cmdRoot.PersistentFlags()
	f.StringVar(&globalOptions.ConfigDir, "config-dir", defaultConfigDir(), "directory holding config.yaml, the database and the CA")
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".malja"
	}
	return filepath.Join(dir, "malja")
}

// openRepo loads the config and opens the database it points to
func openRepo(configDir string) (*malja.Config, *db.Repository, error) {
	cfg, err := malja.LoadConfig(configDir)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.New(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %s : %w", cfg.DatabasePath(), err)
	}
	return cfg, db.NewRepo(conn), nil
}

// openProxy builds a proxy from the config dir, the proxy owns the repository
func openProxy(configDir string, options ...func(*malja.Proxy) error) (*malja.Proxy, error) {
	cfg, repo, err := openRepo(configDir)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	base := []func(*malja.Proxy) error{
		malja.WithLogger(logger),
		malja.WithRepo(repo),
		malja.WithConfig(cfg),
	}
	proxy, err := malja.New(append(base, options...)...)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return proxy, nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
