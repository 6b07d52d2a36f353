package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/threadbot/pkg/threadbot/session"
)

// newResetCmd creates the `threadbot reset` command.
func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start a new conversation thread",
		Long: `Delete the current conversation thread and the files uploaded to it,
then create a fresh thread. Same as sending /reset to the bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, found, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg, os.Stderr, slog.LevelWarn)
			if err := prepareSecrets(cfg, found, logger); err != nil {
				return err
			}

			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			store := session.New(cfg.SessionSettings(), client, logger)

			threadID, err := store.Reset(context.Background())
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Printf("New conversation thread: %s\n", threadID)
			return nil
		},
	}
}
