package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gatekeeper/internal/guard"
)

func newCheckCmd(a *app) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Decide whether the current session may visit a route",
		Long: `Evaluate a navigation target against the route table using the restored
session. The exit status is 0 for allow and 7 for redirect or forbidden,
so the command can gate scripts.

Examples:
  gatekeeper check /chanxueyan/admin/users
  gatekeeper check --quiet /chanxueyan/qa/42 && echo ok`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routes, err := a.routes()
			if err != nil {
				return err
			}
			g := guard.New(routes, a.session(cmd.Context()),
				guard.WithLogger(a.logger),
				guard.WithMetrics(a.metrics),
			)

			v := g.Check(args[0])
			if !quiet {
				fmt.Fprintln(a.out, a.styles.RenderVerdict(v, routes.LoginPath))
			}
			return v.Err()
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing; report through the exit status only")
	return cmd
}

func newRoutesCmd(a *app) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		Long: `Print the route table used by check. Pass --yaml to get a file suitable
as a starting point for --routes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			routes, err := a.routes()
			if err != nil {
				return err
			}
			if asYAML {
				data, err := routes.Marshal()
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			}
			fmt.Fprintln(a.out, a.styles.RenderRoutes(routes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "output as YAML")
	return cmd
}
