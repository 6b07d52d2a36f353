package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/threadbot/pkg/threadbot/channels/console"
)

// newChatCmd creates the `threadbot chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: `Start an interactive session against the same thread the bot uses.

Commands inside the session:
  /photo <url> [caption]   send an image by URL
  /doc <url> [caption]     send a document or audio file by URL
  /reset                   start a new conversation thread
  /quit                    leave

Examples:
  threadbot chat
  threadbot chat --as alice`,
		RunE: runChat,
	}

	cmd.Flags().String("as", "", "username to chat as (defaults to the first allowed user)")
	cmd.Flags().String("output", ".", "directory for images sent by the assistant")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, found, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr, slog.LevelWarn)

	if err := prepareSecrets(cfg, found, logger); err != nil {
		return err
	}

	username, _ := cmd.Flags().GetString("as")
	if username == "" && len(cfg.Access.AllowedUsers) > 0 {
		username = cfg.Access.AllowedUsers[0]
	}
	outputDir, _ := cmd.Flags().GetString("output")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	con := console.New(console.Config{
		Username:    username,
		HistoryFile: filepath.Join(cfg.StateDir, ".chat_history"),
		OutputDir:   outputDir,
	}, logger)

	rt, err := buildRuntime(ctx, cfg, logger, con)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.assistant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	fmt.Printf("Chatting as %q. Type /quit to leave.\n", username)

	select {
	case <-con.Done():
	case <-ctx.Done():
	}
	rt.assistant.Stop()
	return nil
}
