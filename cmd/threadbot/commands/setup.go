package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/threadbot/pkg/threadbot/copilot"
	"github.com/jholhewres/threadbot/pkg/threadbot/scheduler"
)

// newSetupCmd creates the `threadbot setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
Asks for the assistant id, the allowed Telegram usernames and the reminder
timezone. The OpenAI key and the bot token can be stored in the OS keyring;
config.yaml only ever holds environment references to them.

Examples:
  threadbot setup
  threadbot setup --output ./deploy/config.yaml`,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the config")
	return cmd
}

// setupAnswers holds the wizard's raw input.
type setupAnswers struct {
	name         string
	assistantID  string
	allowedUsers string
	timezone     string
	persist      bool
	apiKey       string
	botToken     string
	useKeyring   bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	target, _ := cmd.Flags().GetString("output")
	cfg := copilot.DefaultConfig()
	ans := setupAnswers{name: cfg.Name, useKeyring: true}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Used in logs.").
				Value(&ans.name),
			huh.NewInput().
				Title("Assistant ID").
				Description("The pre-configured OpenAI assistant (asst_...).").
				Value(&ans.assistantID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("assistant id is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Allowed Telegram usernames").
				Description("Comma separated, without @. Everyone else gets \"No access\".").
				Value(&ans.allowedUsers),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Reminder timezone").
				Description("IANA zone such as Europe/Berlin. Empty uses the local zone.").
				Value(&ans.timezone).
				Validate(validateTimezone),
			huh.NewConfirm().
				Title("Keep reminders across restarts?").
				Description("Stores pending reminders in a SQLite file.").
				Value(&ans.persist),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key").
				Description("Leave empty to use OPENAI_API_KEY from the environment.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to use TELEGRAM_BOT_TOKEN.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.botToken),
			huh.NewConfirm().
				Title("Store secrets in the OS keyring?").
				Value(&ans.useKeyring),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup: %w", err)
	}

	applyAnswers(cfg, ans)
	stored := storeSetupSecrets(ans)

	if _, err := os.Stat(target); err == nil {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
			Value(&overwrite).
			Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := copilot.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\n%s created (permissions: 600).\n\n", target)
	fmt.Printf("  Assistant:  %s\n", cfg.API.AssistantID)
	fmt.Printf("  Allowed:    %s\n", strings.Join(cfg.Access.AllowedUsers, ", "))
	fmt.Printf("  Reminders:  persist=%v timezone=%q\n", cfg.Scheduler.Persist, cfg.Scheduler.Timezone)
	for _, line := range stored {
		fmt.Println("  " + line)
	}
	fmt.Println()
	fmt.Println("Next: threadbot serve")
	return nil
}

// applyAnswers copies the wizard answers into cfg. Secrets are written as
// environment references only.
func applyAnswers(cfg *copilot.Config, ans setupAnswers) {
	if name := strings.TrimSpace(ans.name); name != "" {
		cfg.Name = name
	}
	cfg.API.AssistantID = strings.TrimSpace(ans.assistantID)
	cfg.API.APIKey = "${OPENAI_API_KEY}"
	cfg.Channels.Telegram.Token = "${TELEGRAM_BOT_TOKEN}"
	cfg.Access.AllowedUsers = splitUsers(ans.allowedUsers)
	cfg.Scheduler.Timezone = strings.TrimSpace(ans.timezone)
	cfg.Scheduler.Persist = ans.persist
}

// storeSetupSecrets saves entered secrets to the keyring and reports where
// each one lives.
func storeSetupSecrets(ans setupAnswers) []string {
	secrets := []struct {
		label, key, value, env string
	}{
		{"API key", copilot.KeyringAPIKey, ans.apiKey, "OPENAI_API_KEY"},
		{"Bot token", copilot.KeyringBotToken, ans.botToken, "TELEGRAM_BOT_TOKEN"},
	}

	var out []string
	for _, s := range secrets {
		switch {
		case strings.TrimSpace(s.value) == "":
			out = append(out, fmt.Sprintf("%-10s  from $%s", s.label+":", s.env))
		case !ans.useKeyring:
			out = append(out, fmt.Sprintf("%-10s  not saved, export $%s", s.label+":", s.env))
		default:
			if err := copilot.StoreKeyring(s.key, strings.TrimSpace(s.value)); err != nil {
				out = append(out, fmt.Sprintf("%-10s  keyring failed (%v), export $%s", s.label+":", err, s.env))
				continue
			}
			out = append(out, fmt.Sprintf("%-10s  **** (OS keyring)", s.label+":"))
		}
	}
	return out
}

func splitUsers(s string) []string {
	var users []string
	for _, u := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if u = strings.TrimPrefix(strings.TrimSpace(u), "@"); u != "" {
			users = append(users, u)
		}
	}
	return users
}

func validateTimezone(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := scheduler.Config{Timezone: strings.TrimSpace(s)}.Location()
	return err
}
