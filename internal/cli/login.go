package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/memory-hub/internal/auth"
)

func newLoginCommand() *cobra.Command {
	var tenant, user, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials for the backend",
		Long: `Store a bearer token for the backend. Tenant and user default to the
token's claims when not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if token == "" {
				token = a.cfg.Token
			}
			if err := a.session.SignIn(auth.Identity{
				TenantID: tenant,
				UserID:   user,
				Token:    token,
			}); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			id, err := a.session.Identity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				successStyle.Render("Signed in as"),
				titleStyle.Render(id.UserID),
				idStyle.Render("("+id.TenantID+")"),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Bearer token (defaults to MEMHUB_TOKEN)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&user, "user", "", "User id")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if err := a.store.Clear(); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Signed out."))
			return nil
		},
	}
}
