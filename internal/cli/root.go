package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agorad-dev/agorad/internal/cli/commands"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora - Private forum administration",
	Long: `Agora CLI - Administer a private forum from the terminal.

Commands resolve your session and profile the same way the web surface
does: until your account is approved, everything beyond login stays locked.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agora version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewConfigureCmd())
	rootCmd.AddCommand(commands.NewLoginCmd())
	rootCmd.AddCommand(commands.NewLogoutCmd())
	rootCmd.AddCommand(commands.NewWhoamiCmd())
	rootCmd.AddCommand(commands.NewUsersCmd())
	rootCmd.AddCommand(commands.NewSectionsCmd())
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
