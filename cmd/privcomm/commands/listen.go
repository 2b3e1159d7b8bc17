package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"privcomm/internal/app"
	"privcomm/internal/call"
	"privcomm/internal/channel"
	"privcomm/internal/domain"
)

func listenCmd() *cobra.Command {
	var autoAccept bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected, printing messages and taking calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireSelf(); err != nil {
				return err
			}

			var wire *app.Wire
			hooks := app.Hooks{
				OnMessage: func(from domain.PeerID, pt []byte) {
					fmt.Printf("[%s] %s\n", from, pt)
				},
				OnChannelState: func(s channel.State) {
					fmt.Fprintf(os.Stderr, "channel: %s\n", s)
				},
				OnCallState: func(s call.State, peer domain.PeerID) {
					if peer != "" {
						fmt.Fprintf(os.Stderr, "call with %s: %s\n", peer, s)
					}
				},
				OnIncomingCall: func(peer domain.PeerID, callID string) {
					if autoAccept {
						fmt.Fprintf(os.Stderr, "accepting call from %s\n", peer)
						if err := wire.Calls.AcceptCall(context.Background()); err != nil {
							fmt.Fprintf(os.Stderr, "accept failed: %v\n", err)
						}
						return
					}
					fmt.Fprintf(os.Stderr, "declining call from %s (--auto-accept=false)\n", peer)
					if err := wire.Calls.RejectCall(); err != nil {
						fmt.Fprintf(os.Stderr, "reject failed: %v\n", err)
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

			// Top up the published pool while we are online.
			self, err := wire.Identity.LoadIdentity()
			if err != nil {
				return err
			}
			if n, err := wire.Prekeys.RefillIfLow(cmd.Context(), domain.PeerID(cfg.SelfID), self, cfg.RefillThreshold); err != nil {
				fmt.Fprintf(os.Stderr, "pre-key refill failed: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "published %d fresh one-time pre-keys\n", n)
			}

			fmt.Fprintln(os.Stderr, "listening; Ctrl-C to quit")
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case <-stop:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", true, "answer incoming calls automatically")
	return cmd
}
