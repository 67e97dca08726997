package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agorad-dev/agorad/internal/access"
)

// NewUsersCmd creates the users command group
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts and approvals",
	}

	cmd.AddCommand(newUsersListCmd())
	cmd.AddCommand(newUsersApproveCmd())
	cmd.AddCommand(newUsersRejectCmd())
	cmd.AddCommand(newUsersSetRoleCmd())

	return cmd
}

func newUsersListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			if _, err := cliCtx.requireAccess(cmd.Context(), access.Moderation); err != nil {
				return err
			}

			users, err := cliCtx.api.ListUsers(cliCtx.cfg.ServerURL, status)
			if err != nil {
				return err
			}

			if len(users) == 0 {
				fmt.Println("No accounts found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tUSERNAME\tSTATUS\tROLE")
			fmt.Fprintln(w, "──\t─────\t────────\t──────\t────")

			for _, user := range users {
				username, userStatus, role := "-", "-", "-"
				if user.Profile != nil {
					username = user.Profile.Username
					userStatus = string(user.Profile.Status)
					role = string(user.Profile.Role)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", user.ID, user.Email, username, userStatus, role)
			}

			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by approval status (pending_approval, approved, rejected)")

	return cmd
}

func newUsersApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <user-id>",
		Short: "Approve a pending account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			if _, err := cliCtx.requireAccess(cmd.Context(), access.Moderation); err != nil {
				return err
			}

			profile, err := cliCtx.api.ApproveUser(cliCtx.cfg.ServerURL, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("✓ Approved %s (%s)\n", profile.Username, profile.UserID)
			return nil
		},
	}
}

func newUsersRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <user-id>",
		Short: "Reject an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			if _, err := cliCtx.requireAccess(cmd.Context(), access.Moderation); err != nil {
				return err
			}

			profile, err := cliCtx.api.RejectUser(cliCtx.cfg.ServerURL, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("✓ Rejected %s (%s)\n", profile.Username, profile.UserID)
			return nil
		},
	}
}

func newUsersSetRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <user-id> <role>",
		Short: "Change an account's role (user, moderator, admin, super_admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := access.ParseRole(args[1]); !ok {
				return fmt.Errorf("unknown role %q (expected user, moderator, admin or super_admin)", args[1])
			}

			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			if _, err := cliCtx.requireAccess(cmd.Context(), access.Administration); err != nil {
				return err
			}

			profile, err := cliCtx.api.SetUserRole(cliCtx.cfg.ServerURL, args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Printf("✓ %s is now %s\n", profile.Username, profile.Role)
			return nil
		},
	}
}
