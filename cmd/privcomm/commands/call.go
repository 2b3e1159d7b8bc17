package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/call"
	"privcomm/internal/domain"
)

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <peer>",
		Short: "Place a call to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireSelf(); err != nil {
				return err
			}
			peer := domain.PeerID(args[0])

			ended := make(chan struct{}, 1)
			hooks := app.Hooks{
				OnCallState: func(s call.State, p domain.PeerID) {
					fmt.Fprintf(os.Stderr, "call: %s\n", s)
					if s == call.StateEnded {
						select {
						case ended <- struct{}{}:
						default:
						}
					}
				},
			}
			wire, err := buildWire(hooks)
			if err != nil {
				return err
			}
			defer wire.Calls.Close()

			if err := wire.Channel.Connect(cmd.Context(), token); err != nil {
				return fmt.Errorf("connect relay: %w", err)
			}
			defer wire.Channel.Disconnect()

			if err := wire.Calls.StartCall(cmd.Context(), peer); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "calling %s; Ctrl-C to hang up\n", peer)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case <-stop:
				if err := wire.Calls.EndCall(); err != nil {
					return err
				}
			case <-ended:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}
