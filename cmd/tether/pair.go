package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/tether/internal/pairing"
)

var showPairing bool

var pairCmd = &cobra.Command{
	Use:   "pair [payload]",
	Short: "Pair this client with a daemon",
	Long:  `Parses a pairing payload (raw JSON or base64) and persists the connection descriptor. Use --show to print the current pairing.`,
	RunE:  runPair,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the stored pairing",
	RunE:  runReset,
}

func init() {
	pairCmd.Flags().BoolVar(&showPairing, "show", false, "Show the current pairing instead of setting one")
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := pairing.NewConfigurator(configDir())
	if err != nil {
		return err
	}

	if showPairing {
		d, err := cfg.Current()
		if err != nil {
			return err
		}
		fmt.Printf("Paired with %s (%s)\n", d.ServerName, d.URL())
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("expected a pairing payload (or --show)")
	}

	d, err := pairing.Parse(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Persist(d); err != nil {
		return err
	}

	fmt.Printf("Paired with %s (%s)\n", d.ServerName, d.URL())
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := pairing.NewConfigurator(configDir())
	if err != nil {
		return err
	}
	if err := cfg.Reset(); err != nil {
		return err
	}
	fmt.Println("Pairing cleared")
	return nil
}
