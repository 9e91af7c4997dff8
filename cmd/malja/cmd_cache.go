package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/malja/db"
	"github.com/tfkr-ae/malja/rawhttp"
)

var cmdCache = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the cache stores",
	Long: `
The "cache" command groups the subcommands working on the cache stores
holding the offline pages.
`,
	DisableAutoGenTag: true,
}

var cmdCacheList = &cobra.Command{
	Use:               "list",
	Short:             "List the cache stores and their keys",
	DisableAutoGenTag: true,
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheList(globalOptions.ConfigDir)
	},
}

var cmdCacheShow = &cobra.Command{
	Use:               "show [flags] KEY",
	Short:             "Print a cached response",
	DisableAutoGenTag: true,
	Args:              cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheShow(globalOptions.ConfigDir, args[0], cacheOptions)
	},
}

var cmdCachePurge = &cobra.Command{
	Use:               "purge [flags] NAME",
	Short:             "Delete a cache store and its entries, or a single entry with --key",
	DisableAutoGenTag: true,
	Args:              cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCachePurge(globalOptions.ConfigDir, args[0], purgeOptions)
	},
}

// CacheOptions bundles all options for the cache show command.
type CacheOptions struct {
	CacheName string
	Pretty    bool
}

var cacheOptions CacheOptions

// PurgeOptions bundles all options for the cache purge command.
type PurgeOptions struct {
	Key string
}

var purgeOptions PurgeOptions

func init() {
	cmdRoot.AddCommand(cmdCache)
	cmdCache.AddCommand(cmdCacheList, cmdCacheShow, cmdCachePurge)

	f := cmdCacheShow.Flags()
	f.StringVar(&cacheOptions.CacheName, "cache", "", "cache store name (default: cache_name from config.yaml)")
	f.BoolVar(&cacheOptions.Pretty, "pretty", false, "pretty print JSON, XML and HTML bodies")

	f = cmdCachePurge.Flags()
	f.StringVar(&purgeOptions.Key, "key", "", "only delete the entry stored under `key`")
}

func runCacheList(configDir string) error {
	_, repo, err := openRepo(configDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	names, err := repo.GetCacheNames()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CACHE\tKEY\tSTATUS\tCONTENT TYPE\tSTORED")
	for _, name := range names {
		keys, err := repo.GetKeys(name)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Fprintf(w, "%s\t-\t\t\t\n", name)
			continue
		}
		for _, key := range keys {
			entry, err := repo.MatchEntry(name, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, key, entry.Status, entry.ContentType, entry.StoredAt.Format("2006-01-02 15:04:05"))
		}
	}
	return w.Flush()
}

func runCacheShow(configDir string, key string, opts CacheOptions) error {
	cfg, repo, err := openRepo(configDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	name := opts.CacheName
	if name == "" {
		name = cfg.CacheName
	}
	entry, err := repo.MatchEntry(name, key)
	if err != nil {
		return fmt.Errorf("matching %s in %q : %w", key, name, err)
	}

	if !opts.Pretty {
		_, err = os.Stdout.Write(entry.Raw)
		return err
	}
	pretty, err := rawhttp.PrettyDump(entry.Raw)
	if err != nil {
		return err
	}
	fmt.Println(pretty)
	return nil
}

func runCachePurge(configDir string, name string, opts PurgeOptions) error {
	_, repo, err := openRepo(configDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	exists, err := repo.HasCache(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("purging %q : %w", name, db.ErrCacheNotFound)
	}

	active, err := repo.GetActiveVersion()
	if err == nil && active.CacheName == name && (opts.Key == "" || opts.Key == active.OfflinePath) {
		fmt.Fprintf(os.Stderr, "warning: %q belongs to the active version %s, the next serve will reinstall it\n", name, active.ID)
	}

	if opts.Key != "" {
		if err := repo.DeleteEntry(name, opts.Key); err != nil {
			return fmt.Errorf("purging %s from %q : %w", opts.Key, name, err)
		}
		fmt.Printf("purged %s from %q\n", opts.Key, name)
		return nil
	}
	if err := repo.DeleteCache(name); err != nil {
		return fmt.Errorf("purging %q : %w", name, err)
	}
	fmt.Printf("purged %q\n", name)
	return nil
}
