package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gatekeeper/internal/devserver"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

func newServeIdentityCmd(a *app) *cobra.Command {
	var (
		addr            string
		tokenTTL        time.Duration
		signingKey      string
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve-identity",
		Short: "Run a local identity API for development",
		Long: `Serve /auth/login, /auth/register, /auth/refresh, /auth/logout and
/auth/profile backed by an in-memory directory seeded with the demo
accounts. Tokens are HS256 JWTs; the signing key is random per run unless
--signing-key is given.

Also serves /healthz, /health/live, /health/ready and /metrics.

Examples:
  gatekeeper serve-identity --addr :8899
  gatekeeper login --api-url http://localhost:8899 --email admin@qq.com --password password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, m := metrics.NewRegistry()
			policy := session.DefaultRegistrationPolicy()
			policy.SentinelName = a.cfg.Demo.Sentinel

			opts := []devserver.Option{
				devserver.WithLogger(a.logger),
				devserver.WithMetrics(reg, m),
				devserver.WithTokenTTL(tokenTTL),
				devserver.WithRegistrationPolicy(policy),
			}
			if signingKey != "" {
				opts = append(opts, devserver.WithSigningKey([]byte(signingKey)))
			}
			srv, err := devserver.New(opts...)
			if err != nil {
				return fmt.Errorf("start identity server: %w", err)
			}

			fmt.Fprintf(a.out, "Identity server listening on %s\n", addr)
			return srv.Run(cmd.Context(), addr, shutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8899", "listen address")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", devserver.DefaultTokenTTL, "access token lifetime")
	cmd.Flags().StringVar(&signingKey, "signing-key", "", "HMAC signing key (random when empty)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}
