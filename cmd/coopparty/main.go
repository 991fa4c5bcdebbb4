// coopparty runs one side of a co-op session against a small demo world, for
// trying the netcode without the game.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "coopparty",
		Short: "Two player co-op sessions over a direct connection",
		Long: `coopparty hosts or joins a co-op session.

The host runs the authoritative world and streams snapshots to the client;
the client streams its controller input back. Configuration is read from
COOP_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		hostCmd(),
		joinCmd(),
		codeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
