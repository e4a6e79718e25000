// Command cablecat is a terminal client for ActionCable servers. It
// subscribes to channels and prints every envelope it receives, or sends a
// single action and exits.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cablecat: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "cablecat",
		Short: "Talk to an ActionCable server from the terminal",
		Long: `cablecat connects to an ActionCable endpoint, subscribes to channels
and prints the envelopes it receives as JSON lines.

Settings come from flags or from a JSON config file (--config). Flags win
over the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(rootCmd)

	rootCmd.AddCommand(
		subscribeCmd(g),
		sendCmd(g),
		identifierCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cablecat %s (%s)\n", version, commit)
		},
	}
}
