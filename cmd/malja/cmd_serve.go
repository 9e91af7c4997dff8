package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/malja"
	"golang.org/x/sync/errgroup"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy",
	Long: `
The "serve" command starts the proxy and registers the configured worker in the
background. Failed installs are retried with exponential backoff while the proxy
keeps serving with the previously active version.

EXIT STATUS
===========

Exit status is 0 if the proxy was stopped by a signal, and non-zero if there was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, globalOptions.ConfigDir, serveOptions)
	},
}

// ServeOptions bundles all options for the serve command.
type ServeOptions struct {
	Address string
	Port    string
	NoTLS   bool
}

var serveOptions ServeOptions

func init() {
	cmdRoot.AddCommand(cmdServe)

	f := cmdServe.Flags()
	f.StringVar(&serveOptions.Address, "address", "", "listen address (default: listen_address from config.yaml)")
	f.StringVar(&serveOptions.Port, "port", "", "listen port (default: listen_port from config.yaml)")
	f.BoolVar(&serveOptions.NoTLS, "no-tls", false, "do not intercept HTTPS")
}

func runServe(ctx context.Context, configDir string, opts ServeOptions) error {
	options := []func(*malja.Proxy) error{malja.WithDefaultModifiers()}
	if !opts.NoTLS {
		options = append(options, malja.WithTLS())
	}
	proxy, err := openProxy(configDir, options...)
	if err != nil {
		return err
	}
	defer proxy.Repo.Close()

	address, port := proxy.Addr, proxy.Port
	if opts.Address != "" {
		address = opts.Address
	}
	if opts.Port != "" {
		port = opts.Port
	}

	listener, err := proxy.GetListener(address, port)
	if err != nil {
		return err
	}

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		err := proxy.Serve(listener)
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	wg.Go(func() error {
		// the proxy keeps serving the previous version when registration gives up
		if _, err := proxy.RegisterWithRetry(wgCtx); err != nil && wgCtx.Err() == nil {
			proxy.Logger.Error("registration failed", "error", err)
		}
		return nil
	})
	wg.Go(func() error {
		<-wgCtx.Done()
		proxy.Logger.Info("shutting down")
		listener.Close()
		proxy.Close()
		return nil
	})
	return wg.Wait()
}
