package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := validateNewPassphrase(); err != nil {
				return err
			}
			wire, err := buildWire(app.Hooks{})
			if err != nil {
				return err
			}
			defer wire.Calls.Close()

			_, fp, err := wire.Identity.InitIdentity()
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", fp)
			return nil
		},
	}
}
