package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taciclei/magneto-serge-sub000/pkg/ca"
)

func newCertCmd() *cobra.Command {
	var caDir string

	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Print the root CA certificate (PEM), minting one if it doesn't exist",
		Long: "magneto cert prints the root certificate that must be trusted by any client\n" +
			"sent through the proxy. It never installs the certificate into an OS trust\n" +
			"store itself; pipe the output into your platform's trust-store tooling.",
		RunE: func(cmd *cobra.Command, args []string) error {
			authority, err := ca.Load(caDir)
			if err != nil {
				return fmt.Errorf("load certificate authority: %w", err)
			}
			_, err = os.Stdout.Write(authority.RootCertPEM())
			return err
		},
	}

	cmd.Flags().StringVar(&caDir, "ca-dir", defaultCADir(), "directory holding the root CA's cert/key pair")
	return cmd
}
