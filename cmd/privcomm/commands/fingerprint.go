package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Show the local identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			wire, err := buildWire(app.Hooks{})
			if err != nil {
				return err
			}
			defer wire.Calls.Close()

			fp, err := wire.Identity.FingerprintIdentity()
			if err != nil {
				return err
			}
			fmt.Println(fp)
			return nil
		},
	}
}
