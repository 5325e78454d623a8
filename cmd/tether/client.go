package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/tether/internal/lifecycle"
	"github.com/fentz26/tether/internal/pairing"
	"github.com/fentz26/tether/internal/transport"
	"github.com/fentz26/tether/internal/tui"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Launch the interactive client",
	RunE:  runClient,
}

// termPermissions reports permissions for the terminal client. A terminal has
// no device permission prompts, so everything is granted.
type termPermissions struct{}

func (termPermissions) Granted() bool { return true }

// termEvents is the host event source for the terminal client. Terminals have
// no background/foreground lifecycle; the channel simply never delivers.
type termEvents struct{ ch chan lifecycle.HostEvent }

func (e termEvents) Events() <-chan lifecycle.HostEvent { return e.ch }

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := pairing.NewConfigurator(configDir())
	if err != nil {
		return err
	}

	channel := transport.New(transport.DefaultConfig())
	prober := lifecycle.NewHTTPProber(nil)
	coordinator := lifecycle.New(nil, cfg, prober, termPermissions{}, channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := coordinator.Initialize(ctx)
	if state.Phase == lifecycle.PhaseReady {
		d, err := cfg.Current()
		if err != nil {
			return err
		}
		if err := channel.ConnectPairing(ctx, d); err != nil {
			fmt.Printf("Channel connect failed: %v (the client will keep retrying)\n", err)
		}
	}

	go coordinator.Run(ctx, termEvents{ch: make(chan lifecycle.HostEvent)})

	app := tui.New(coordinator, channel, pairing.Parse)
	if err := app.Run(); err != nil {
		return fmt.Errorf("client error: %w", err)
	}
	return nil
}
