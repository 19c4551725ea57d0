package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// statusReport is the --json form of `gatekeeper status`.
type statusReport struct {
	Authenticated    bool                `json:"authenticated"`
	Phase            string              `json:"phase"`
	Status           string              `json:"status"`
	Error            string              `json:"error,omitempty"`
	User             *session.UserRecord `json:"user,omitempty"`
	Permissions      []string            `json:"permissions,omitempty"`
	TokenFingerprint string              `json:"token_fingerprint,omitempty"`
}

func buildStatusReport(snap session.Snapshot) statusReport {
	r := statusReport{
		Authenticated:    snap.IsAuthenticated(),
		Phase:            snap.Phase.String(),
		Status:           snap.Status.Kind.String(),
		Error:            snap.Status.Message,
		User:             snap.User,
		TokenFingerprint: log.Fingerprint(snap.Token),
	}
	if snap.User != nil {
		r.Permissions = snap.User.EffectivePermissions()
	}
	return r
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Long: `Show the restored session: state, user, role, effective permissions and
a fingerprint of the token. The token itself is never printed.

This command does not contact the identity API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.session(cmd.Context()).Snapshot()
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(buildStatusReport(snap))
			}
			fmt.Fprintln(a.out, a.styles.RenderStatus(snap, log.Fingerprint(snap.Token)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Reload and print the user profile from the identity API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := a.session(ctx)
			if !m.IsAuthenticated() {
				return gkerrors.NewNotAuthenticatedError()
			}
			if _, err := m.RefreshIfNeeded(ctx); err != nil {
				a.logger.WithError(err).Debug("pre-emptive refresh failed")
			}
			user, err := m.ReloadProfile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s\n%s\n", describeUser(user), user.Email)
			return nil
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	var ifNeeded bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the session token for a fresh one",
		Long: `Exchange the current token for a new one. With --if-needed the exchange
only happens when the token is a JWT expiring within the configured
token_refresh_threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := a.session(ctx)
			if !m.IsAuthenticated() {
				return gkerrors.NewNotAuthenticatedError()
			}

			if ifNeeded {
				refreshed, err := m.RefreshIfNeeded(ctx)
				if err != nil {
					return err
				}
				if !refreshed {
					fmt.Fprintln(a.out, "Token is still fresh.")
					return nil
				}
			} else if err := m.Refresh(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Token refreshed (%s).\n", log.Fingerprint(m.Snapshot().Token))
			return nil
		},
	}

	cmd.Flags().BoolVar(&ifNeeded, "if-needed", false, "only refresh a token close to expiry")
	return cmd
}
