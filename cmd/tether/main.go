package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - remote channel to a local agent daemon",
	Long:  `Tether pairs a lightweight client with a daemon running next to your agent, keeping a persistent channel open for conversational exchanges with confidence-based autonomy decisions.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7600", "Daemon API address")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configDir returns the per-user tether directory.
func configDir() string {
	homeDir, _ := os.UserHomeDir()
	return homeDir + "/.tether"
}
