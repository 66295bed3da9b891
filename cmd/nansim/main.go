// Command nansim drives the NAN scheduler against scripted peers and prints
// the schedules it ends up with.
package main

import (
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
		Use:          "nansim",
		Short:        "NAN resource scheduler simulator",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newBitmapCmd())
	return root
}
