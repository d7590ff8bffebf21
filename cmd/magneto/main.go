// Command magneto runs the MITM record/replay proxy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "magneto",
		Short: "magneto is a MITM HTTP/HTTPS/WebSocket record-replay proxy",
		Long: "magneto sits between a client and the real internet, terminating TLS with a\n" +
			"locally-trusted certificate authority, and either records live traffic into a\n" +
			"cassette or replays one back, depending on the active mode.",
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCertCmd())
	cmd.AddCommand(newCassetteCmd())

	return cmd
}
