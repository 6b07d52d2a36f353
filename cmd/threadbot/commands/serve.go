package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/threadbot/pkg/threadbot/channels/telegram"
)

// newServeCmd creates the `threadbot serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot",
		Long: `Start threadbot as a service: connect to Telegram, start the reminder
scheduler and relay messages until interrupted.

Examples:
  threadbot serve
  threadbot serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, found, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout, slog.LevelInfo)
	slog.SetDefault(logger)

	if err := prepareSecrets(cfg, found, logger); err != nil {
		return err
	}
	if cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram token missing: set TELEGRAM_BOT_TOKEN or run 'threadbot config set-key telegram'")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tg := telegram.New(cfg.Channels.Telegram, logger)
	rt, err := buildRuntime(ctx, cfg, logger, tg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.assistant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("threadbot running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"allowed_users", len(cfg.Access.AllowedUsers),
		"persist_reminders", cfg.Scheduler.Persist,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		rt.assistant.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}
