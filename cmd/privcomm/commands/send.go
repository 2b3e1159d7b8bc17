package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/domain"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message...>",
		Short: "Encrypt and send a message over the relay",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireSelf(); err != nil {
				return err
			}
			wire, err := buildWire(app.Hooks{})
			if err != nil {
				return err
			}
			defer wire.Calls.Close()

			if err := wire.Channel.Connect(cmd.Context(), token); err != nil {
				return fmt.Errorf("connect relay: %w", err)
			}
			defer wire.Channel.Disconnect()

			peer := domain.PeerID(args[0])
			text := strings.Join(args[1:], " ")
			if err := wire.Messages.Send(cmd.Context(), peer, []byte(text)); err != nil {
				return err
			}
			fmt.Printf("Sent to %s.\n", peer)
			return nil
		},
	}
}
