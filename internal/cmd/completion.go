package cmd

import (
	"github.com/spf13/cobra"
)

func newCompletionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `To load completions:

Bash:
  $ source <(gatekeeper completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ gatekeeper completion bash > /etc/bash_completion.d/gatekeeper
  # macOS:
  $ gatekeeper completion bash > $(brew --prefix)/etc/bash_completion.d/gatekeeper

Zsh:
  $ gatekeeper completion zsh > "${fpath[1]}/_gatekeeper"

Fish:
  $ gatekeeper completion fish | source

PowerShell:
  PS> gatekeeper completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Annotations:           map[string]string{annotationRawConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(a.out)
			case "zsh":
				return root.GenZshCompletion(a.out)
			case "fish":
				return root.GenFishCompletion(a.out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(a.out)
			}
			return nil
		},
	}
}
