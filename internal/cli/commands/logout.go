package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and discard the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			cliCtx.store.Start(cmd.Context())

			// The provider deletes the token and notifies the store; the
			// store clears its state from that notification
			if err := cliCtx.store.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("failed to sign out: %w", err)
			}

			fmt.Println("✓ Signed out.")
			return nil
		},
	}
}
