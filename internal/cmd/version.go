package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gatekeeper/internal/version"
)

func newVersionCmd(a *app) *cobra.Command {
	var versionJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationRawConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if versionJSON {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %w", err)
				}
				fmt.Fprintln(a.out, string(data))
				return nil
			}
			fmt.Fprintln(a.out, info.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	return cmd
}
