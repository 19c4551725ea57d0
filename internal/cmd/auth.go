package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gatekeeper/internal/rbac"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
	"github.com/felixgeelhaar/gatekeeper/internal/tui"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the identity API",
		Long: `Exchange an email and password for a session token. The token and user
record are persisted so later commands reuse the session.

Missing credentials are prompted for when running in a terminal.

Examples:
  gatekeeper login --email user@example.com --password secret1
  gatekeeper login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				if !tui.ShouldPrompt() {
					return fmt.Errorf("--email and --password are required when not running interactively")
				}
				var err error
				if email, password, err = tui.LoginPrompt(email, password); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			res := a.session(ctx).Login(ctx, email, password)
			if res.Err != nil {
				return res.Err
			}
			fmt.Fprintf(a.out, "%s Logged in as %s\n", a.styles.Success.Render("✓"), describeUser(res.User))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var profile session.Profile

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Long: `Register a new account. On success the new session is persisted exactly
as after login.

Usernames are 3-20 letters, digits or underscores; passwords need at least
six characters.

Examples:
  gatekeeper register --name alice --email alice@example.com --password secret1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile.Name == "" || profile.Email == "" || profile.Password == "" {
				if !tui.ShouldPrompt() {
					return fmt.Errorf("--name, --email and --password are required when not running interactively")
				}
				var err error
				if profile, err = tui.RegisterPrompt(profile); err != nil {
					return err
				}
			}
			if err := profile.Validate(); err != nil {
				return fmt.Errorf("invalid registration: %w", err)
			}
			if strength, _ := session.ValidatePassword(profile.Password); strength == session.StrengthWeak {
				fmt.Fprintln(a.errOut, a.styles.Warning.Render("warning: weak password; mix upper and lower case, digits and symbols"))
			}

			ctx := cmd.Context()
			res := a.session(ctx).Register(ctx, profile)
			if res.Err != nil {
				return res.Err
			}
			fmt.Fprintf(a.out, "%s Registered and logged in as %s\n", a.styles.Success.Render("✓"), describeUser(res.User))
			return nil
		},
	}

	cmd.Flags().StringVar(&profile.Name, "name", "", "username")
	cmd.Flags().StringVar(&profile.Email, "email", "", "email address")
	cmd.Flags().StringVar(&profile.Password, "password", "", "password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Long: `Notify the identity API (best effort) and remove the persisted session.
Logging out when no session exists is not an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := a.session(ctx)
			if !m.IsAuthenticated() {
				fmt.Fprintln(a.out, "Not logged in.")
				return nil
			}
			name := describeUser(m.Snapshot().User)
			m.Logout(ctx)
			fmt.Fprintf(a.out, "Logged out %s.\n", name)
			return nil
		},
	}
}

func describeUser(u *session.UserRecord) string {
	if u == nil {
		return "unknown user"
	}
	name := u.Name
	if name == "" {
		name = u.Email
	}
	return fmt.Sprintf("%s (%s)", name, rbac.Label(u.Role))
}
