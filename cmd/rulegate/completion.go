package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/cli"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for rulegate.

To load completions:

Bash:
  $ source <(rulegate completion bash)
  # To load permanently:
  $ rulegate completion bash > /etc/bash_completion.d/rulegate

Zsh:
  $ rulegate completion zsh > "${fpath[1]}/_rulegate"
  $ compinit

Fish:
  $ rulegate completion fish | source

PowerShell:
  PS> rulegate completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(out)
		default:
			return cli.NewUsageError("unsupported shell: " + args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
