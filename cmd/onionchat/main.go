package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    bool
	configPath string

	rootCmd = &cobra.Command{
		Use:   "onionchat",
		Short: "Chat session client for an onion chat daemon",
		Long: `onionchat keeps a chat timeline in sync with a local onion chat daemon.

Examples:
  onionchat serve --config config.json           # Run the local view API
  onionchat tail <onion-id>                      # Follow a conversation in the terminal
  onionchat send <onion-id> "hello"              # Send one message and wait for it to land
  onionchat send <onion-id> --attachment cat.png # Send an image`,
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "onionchat %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json",
		"Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"Enable verbose logging (includes contact addresses and message text)")

	rootCmd.AddCommand(serveCmd, tailCmd, sendCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
