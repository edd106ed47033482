// Command cfws streams Crypto Facilities feeds over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cfws",
		Short:         "Crypto Facilities WebSocket feed client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStreamCmd(), newSignCmd(), newVersionCmd())
	return root
}

// fail prints err to stderr and passes it through so Execute reports it.
func fail(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	return err
}
