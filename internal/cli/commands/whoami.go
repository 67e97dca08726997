package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agorad-dev/agorad/internal/access"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the resolved identity and standing of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			state, err := cliCtx.resolve(cmd.Context())
			if err != nil {
				return err
			}

			if state.Session == nil {
				fmt.Println("Not signed in.")
				fmt.Println("\nSign in with: agora login --email <email>")
				return nil
			}

			fmt.Printf("User:       %s (%s)\n", state.Session.Email, state.Session.UserID)
			fmt.Printf("Resolution: %s\n", state.Resolution)

			if state.Profile == nil {
				return nil
			}

			fmt.Printf("Username:   %s\n", state.Profile.Username)
			fmt.Printf("Status:     %s\n", state.Profile.Status)
			fmt.Printf("Role:       %s\n", state.Profile.Role)

			caps := access.CapabilitiesFor(state.Profile.Role)
			fmt.Printf("Moderation: %v\n", caps.CanModerate)
			fmt.Printf("Admin:      %v\n", caps.CanAdminister)

			return nil
		},
	}
}
