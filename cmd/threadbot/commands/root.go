// Package commands implements the threadbot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threadbot",
		Short: "Telegram relay for an OpenAI assistant",
		Long: `threadbot relays a Telegram chat to a pre-configured OpenAI assistant.
Text, photos, documents and voice notes are forwarded to one shared
conversation thread and the assistant's replies are streamed back.

Examples:
  threadbot setup
  threadbot serve
  threadbot chat
  threadbot reset
  threadbot reminders list`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newResetCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newRemindersCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
