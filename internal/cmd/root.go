package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// annotationRawConfig marks commands that must work even when the
// configuration does not validate.
const annotationRawConfig = "gatekeeper/raw-config"

// NewRootCmd builds the command tree around a.
func NewRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Session and route-guard client for the identity API",
		Long: `gatekeeper keeps an authenticated session against the identity API,
persists it across runs, and answers whether a route may be visited with
the current session.

Configuration is read from ~/.gatekeeper/config.yaml and GATEKEEPER_*
environment variables; the flags below override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationRawConfig] == "true" {
				return a.setupRaw(cmd.Flags().Changed)
			}
			return a.setup(cmd.Flags().Changed)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "config file (default is $HOME/.gatekeeper/config.yaml)")
	pf.StringVar(&a.flags.apiURL, "api-url", "", "identity API base URL")
	pf.StringVar(&a.flags.storeKind, "store", "", "session store backend: file, sqlite, redis or memory")
	pf.BoolVar(&a.flags.demo, "demo", false, "answer the built-in demo accounts without the network")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.flags.routesFile, "routes", "", "YAML route table (default is the built-in table)")

	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newWhoamiCmd(a),
		newRefreshCmd(a),
		newCheckCmd(a),
		newRoutesCmd(a),
		newServeIdentityCmd(a),
		newConfigCmd(a),
		newDoctorCmd(a),
		newCompletionCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt by the caller.
func ExecuteContext(ctx context.Context) error {
	a := stdApp()
	defer a.close()
	return NewRootCmd(a).ExecuteContext(ctx)
}
