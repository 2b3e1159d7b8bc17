package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/domain"
)

func registerCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish a fresh pre-key bundle to the directory",
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

			self, err := wire.Identity.LoadIdentity()
			if err != nil {
				return err
			}
			if count == 0 {
				count = cfg.OneTimePreKeyCount
			}
			bundle, err := wire.Prekeys.GenerateBundle(cmd.Context(), domain.PeerID(cfg.SelfID), self, count)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s: signed pre-key %d, %d one-time pre-keys.\n",
				bundle.PeerID, bundle.SignedPreKeyID, len(bundle.OneTimePreKeys))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "one-time pre-keys to publish (default from config)")
	return cmd
}
