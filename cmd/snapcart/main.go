// Command snapcart watches a retail product page and races configured
// accounts through checkout when it becomes purchasable.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:           "snapcart",
		Short:         "Retail restock monitor and checkout assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable detailed debug logging")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newAccountsCmd(&configPath),
		newProxiesCmd(&configPath),
		newStatsCmd(&configPath),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the snapcart version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("snapcart", version)
		},
	}
}
