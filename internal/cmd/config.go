package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/gatekeeper/internal/config"
	"github.com/felixgeelhaar/gatekeeper/internal/tui"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or initialise gatekeeper configuration",
		Long: `Manage gatekeeper configuration stored at ~/.gatekeeper/config.yaml

Every key can also be set through the environment, for example
GATEKEEPER_API_BASE_URL or GATEKEEPER_STORE_BACKEND.

Examples:
  # Show configuration file path
  gatekeeper config path

  # View the effective configuration (file, environment and flags merged)
  gatekeeper config view

  # Write the defaults to the configuration file
  gatekeeper config init`,
		Annotations: map[string]string{annotationRawConfig: "true"},
	}

	configPathCmd := &cobra.Command{
		Use:         "path",
		Short:       "Show configuration file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationRawConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.out, configFilePath(a))
			return nil
		},
	}

	configViewCmd := &cobra.Command{
		Use:         "view",
		Short:       "Display the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationRawConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if _, err := a.out.Write(data); err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				fmt.Fprintln(a.errOut, a.styles.Warning.Render(err.Error()))
			}
			return nil
		},
	}

	var force bool
	configInitCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationRawConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFilePath(a)
			if _, err := os.Stat(path); err == nil && !force {
				if !tui.ShouldPrompt() {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
				ok, err := tui.PromptForConfirmation(fmt.Sprintf("Overwrite %s?", path), false)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Left the existing file unchanged.")
					return nil
				}
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", path)
			return nil
		},
	}
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configPathCmd, configViewCmd, configInitCmd)
	return configCmd
}

func configFilePath(a *app) string {
	if a.flags.configFile != "" {
		return a.flags.configFile
	}
	return config.Path()
}
