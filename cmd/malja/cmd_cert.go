package main

import (
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/malja"
)

var cmdCert = &cobra.Command{
	Use:   "cert",
	Short: "Print or export the CA certificate",
	Long: `
The "cert" command loads the CA from the config dir, creating it if needed, and
prints it as PEM together with its SPKI hash. Use --out to write it in DER format.
`,
	DisableAutoGenTag: true,
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCert(globalOptions.ConfigDir, certOptions)
	},
}

// CertOptions bundles all options for the cert command.
type CertOptions struct {
	Out string
}

var certOptions CertOptions

func init() {
	cmdRoot.AddCommand(cmdCert)

	f := cmdCert.Flags()
	f.StringVar(&certOptions.Out, "out", "", "write the certificate in DER format to `file`")
}

func runCert(configDir string, opts CertOptions) error {
	proxy, err := openProxy(configDir, malja.WithTLS())
	if err != nil {
		return err
	}
	defer proxy.Repo.Close()

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, proxy.Cert.Raw, 0644); err != nil {
			return fmt.Errorf("writing certificate : %w", err)
		}
		fmt.Printf("wrote %s\n", opts.Out)
	} else if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: proxy.Cert.Raw}); err != nil {
		return err
	}
	stored, err := proxy.Repo.GetSPKI()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "spki: %s\n", stored)
	return nil
}
