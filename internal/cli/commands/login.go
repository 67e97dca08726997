package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/cli/auth"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with an Agora server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set AGORA_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set AGORA_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, email, password string) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("AGORA_EMAIL")
	}
	if password == "" {
		password = os.Getenv("AGORA_PASSWORD")
	}

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or AGORA_EMAIL env var)")
	}

	// Prompt for password if not provided via flag or env var
	if password == "" {
		if term.IsTerminal(int(syscall.Stdin)) {
			fmt.Print("Password: ")
			bytePassword, err := term.ReadPassword(int(syscall.Stdin))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = string(bytePassword)
			fmt.Println() // New line after password input
		} else {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or AGORA_PASSWORD env var)")
		}
	}

	cliCtx, err := newCLIContext()
	if err != nil {
		return err
	}
	defer cliCtx.store.Stop()

	fmt.Printf("Logging in to %s...\n", cliCtx.cfg.ServerURL)

	loginResp, err := cliCtx.api.Login(email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := auth.SaveToken(cliCtx.cfg.ServerURL, loginResp.Token); err != nil {
		return fmt.Errorf("failed to save authentication token: %w", err)
	}

	// Resolve the fresh session so the reported standing is the server's
	// view, not the login response's
	cliCtx.store.Start(cmd.Context())
	if err := cliCtx.provider.NotifySignedIn(loginResp.Token); err != nil {
		return err
	}
	state, err := cliCtx.resolve(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("✓ Login successful!")
	fmt.Printf("  User: %s\n", loginResp.User.Email)

	switch {
	case state.Profile == nil:
		fmt.Println("  Standing: profile not resolved yet")
	case state.Profile.Status == access.StatusPendingApproval:
		fmt.Println("  Standing: awaiting approval (forum access is locked until a moderator approves you)")
	case state.Profile.Status == access.StatusRejected:
		fmt.Println("  Standing: access refused")
	default:
		fmt.Printf("  Standing: approved (%s)\n", state.Profile.Role)
	}

	return nil
}
