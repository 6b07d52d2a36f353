package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/threadbot/pkg/threadbot/copilot"
)

// newConfigCmd creates the `threadbot config` command for managing settings.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
		Long: `Manage threadbot configuration.

Examples:
  threadbot config show
  threadbot config set-key openai
  threadbot config set-key telegram
  threadbot config delete-key telegram`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

// keyringNames maps the CLI secret names to keyring entries.
var keyringNames = map[string]string{
	"openai":   copilot.KeyringAPIKey,
	"telegram": copilot.KeyringBotToken,
}

func keyringEntry(name string) (string, error) {
	key, ok := keyringNames[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown secret %q (use openai or telegram)", name)
	}
	return key, nil
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, found, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if found == "" {
				fmt.Fprintln(os.Stderr, "# no config file found, showing defaults and environment")
			} else {
				fmt.Fprintf(os.Stderr, "# %s\n", found)
			}

			masked := *cfg
			masked.API.APIKey = maskSecret(cfg.API.APIKey)
			masked.Channels.Telegram.Token = maskSecret(cfg.Channels.Telegram.Token)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <openai|telegram>",
		Short:     "Store a secret in the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"openai", "telegram"},
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := keyringEntry(args[0])
			if err != nil {
				return err
			}
			value, err := copilot.ReadSecret(fmt.Sprintf("%s secret (hidden input): ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty secret, nothing stored")
			}
			if err := copilot.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Printf("%s secret stored in the OS keyring.\n", args[0])
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <openai|telegram>",
		Short:     "Remove a secret from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"openai", "telegram"},
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := keyringEntry(args[0])
			if err != nil {
				return err
			}
			if err := copilot.DeleteKeyring(key); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Printf("%s secret removed from the OS keyring.\n", args[0])
			return nil
		},
	}
}

// maskSecret keeps environment references readable and hides real values.
func maskSecret(s string) string {
	switch {
	case s == "" || copilot.IsEnvReference(s):
		return s
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}
