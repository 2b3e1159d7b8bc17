package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/services/identity"
)

var (
	cfg app.Config

	home         string
	passphrase   string
	selfID       string
	directoryURL string
	relayURL     string
	token        string
	verbose      bool
)

func Execute() error {
	root := &cobra.Command{
		Use:           "privcomm",
		Short:         "End-to-end encrypted messaging and calls CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".privcomm")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			var err error
			cfg = app.DefaultConfig()
			cfg.Home = home
			cfg, err = cfg.ApplyFile(filepath.Join(home, "config.toml"))
			if err != nil {
				return err
			}

			// Flags beat the file.
			if selfID != "" {
				cfg.SelfID = selfID
			}
			if directoryURL != "" {
				cfg.DirectoryURL = directoryURL
			}
			if relayURL != "" {
				cfg.RelayURL = relayURL
			}
			cfg.Passphrase = passphrase

			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			cfg.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.privcomm)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local keys")
	root.PersistentFlags().StringVarP(&selfID, "user", "u", "", "our id on the directory and relay")
	root.PersistentFlags().StringVar(&directoryURL, "directory", "", "directory base URL")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay websocket URL")
	root.PersistentFlags().StringVar(&token, "token", "", "relay auth token")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		refillCmd(),
		startSessionCmd(),
		sendCmd(),
		listenCmd(),
		callCmd(),
	)
	return root.Execute()
}

// requirePassphrase gates every command that opens the stores.
func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

// requireSelf gates commands that talk to the directory or relay.
func requireSelf() error {
	if cfg.SelfID == "" {
		return fmt.Errorf("user id required (-u or self_id in config.toml)")
	}
	return nil
}

// buildWire constructs the dependency graph with the given hooks.
func buildWire(hooks app.Hooks) (*app.Wire, error) {
	return app.NewWire(cfg, hooks)
}

// validateNewPassphrase applies the strength policy when creating an
// identity. Unlocking an existing store accepts whatever it was sealed with.
func validateNewPassphrase() error {
	return identity.ValidatePassphrase(passphrase)
}
