package commands

import (
	"github.com/spf13/cobra"
)

// newCompletionCmd creates the `threadbot completion` command that generates
// shell completion scripts for bash, zsh, fish, and powershell.
func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell auto-completion scripts for threadbot.

To load completions:

Bash:
  source <(threadbot completion bash)
  # To load completions for each session, add to ~/.bashrc:
  echo 'source <(threadbot completion bash)' >> ~/.bashrc

Zsh:
  source <(threadbot completion zsh)
  # To load completions for each session, add to ~/.zshrc:
  echo 'source <(threadbot completion zsh)' >> ~/.zshrc

Fish:
  threadbot completion fish | source
  # To load completions for each session:
  threadbot completion fish > ~/.config/fish/completions/threadbot.fish

PowerShell:
  PS> threadbot completion powershell | Out-String | Invoke-Expression
  # To load completions for each session, add to your profile:
  threadbot completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
