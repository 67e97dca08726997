package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agorad-dev/agorad/internal/cli/config"
)

// NewConfigureCmd creates the configure command
func NewConfigureCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the Agora server this CLI talks to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if serverURL == "" {
				fmt.Printf("Server URL: %s\n", cfg.ServerURL)
				return nil
			}

			cfg.ServerURL = serverURL
			if err := config.Save(cfg); err != nil {
				return err
			}

			fmt.Printf("✓ Server URL set to %s\n", serverURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "Server base URL, e.g. https://forum.example.org")

	return cmd
}
