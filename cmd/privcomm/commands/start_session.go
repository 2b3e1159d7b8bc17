package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/domain"
)

func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Fetch a peer's bundle and establish a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			wire, err := buildWire(app.Hooks{})
			if err != nil {
				return err
			}
			defer wire.Calls.Close()

			peer := domain.PeerID(args[0])
			if _, err := wire.Sessions.EstablishSession(cmd.Context(), peer); err != nil {
				return err
			}
			fmt.Printf("Session established with %s.\n", peer)
			return nil
		},
	}
}
