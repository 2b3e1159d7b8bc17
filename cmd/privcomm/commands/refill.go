package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/domain"
)

func refillCmd() *cobra.Command {
	var threshold int

	cmd := &cobra.Command{
		Use:   "refill",
		Short: "Top up the published one-time pre-key pool if it runs low",
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
			if threshold == 0 {
				threshold = cfg.RefillThreshold
			}
			minted, err := wire.Prekeys.RefillIfLow(cmd.Context(), domain.PeerID(cfg.SelfID), self, threshold)
			if err != nil {
				return err
			}
			if minted == 0 {
				fmt.Println("Pool healthy; nothing to do.")
			} else {
				fmt.Printf("Minted and published %d one-time pre-keys.\n", minted)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 0, "refill when fewer keys remain (default from config)")
	return cmd
}
