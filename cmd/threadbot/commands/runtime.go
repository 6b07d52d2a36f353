package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/threadbot/pkg/threadbot/access"
	"github.com/jholhewres/threadbot/pkg/threadbot/assistant/openai"
	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
	"github.com/jholhewres/threadbot/pkg/threadbot/copilot"
	"github.com/jholhewres/threadbot/pkg/threadbot/media"
	"github.com/jholhewres/threadbot/pkg/threadbot/relay"
	"github.com/jholhewres/threadbot/pkg/threadbot/scheduler"
	"github.com/jholhewres/threadbot/pkg/threadbot/session"
)

// botRuntime is the assembled bot: assistant client, session, relay, reminders
// and the message loop over the given channels.
type botRuntime struct {
	logger    *slog.Logger
	sessions  *session.Store
	assistant *copilot.Assistant
	storage   *scheduler.SQLiteStorage
}

// resolveConfig loads the config from --config or the standard locations.
// It also returns the path it was loaded from, "" when none was found.
func resolveConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, found, err := copilot.LoadConfig(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, found, nil
}

// prepareSecrets audits the loaded config, applies keyring secrets and
// checks that the bot can run.
func prepareSecrets(cfg *copilot.Config, found string, logger *slog.Logger) error {
	if found != "" {
		logger.Debug("config loaded", "path", found)
	}

	// Audit before the keyring fills in secrets, so only file values are checked.
	copilot.AuditSecrets(cfg, logger)
	copilot.ResolveSecrets(cfg, logger)

	if err := cfg.Validate(); err != nil {
		if found == "" {
			fmt.Fprintln(os.Stderr, "No configuration file found. Run 'threadbot setup' to create one.")
		}
		return err
	}
	return nil
}

// newLogger builds the slog logger from the logging config and --verbose.
func newLogger(cmd *cobra.Command, cfg *copilot.Config, w io.Writer, minLevel slog.Level) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := minLevel
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// newClient creates the OpenAI client from the config.
func newClient(cfg *copilot.Config, logger *slog.Logger) (*openai.Client, error) {
	return openai.New(openai.Config{
		APIKey:             cfg.API.APIKey,
		BaseURL:            cfg.API.BaseURL,
		TranscriptionModel: cfg.API.TranscriptionModel,
	}, logger)
}

// buildRuntime wires every component and registers chans with the channel
// manager. Nothing is started.
func buildRuntime(ctx context.Context, cfg *copilot.Config, logger *slog.Logger, chans ...channels.Channel) (*botRuntime, error) {
	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	sessions := session.New(cfg.SessionSettings(), client, logger)
	if threadID, err := sessions.Load(ctx); err == nil {
		logger.Info("conversation thread ready", "thread", threadID)
	}

	mgr := channels.NewManager(logger)
	for _, ch := range chans {
		if err := mgr.Register(ch); err != nil {
			return nil, err
		}
	}

	rt := &botRuntime{logger: logger, sessions: sessions}

	var storage scheduler.Storage
	if cfg.Scheduler.Persist {
		rt.storage, err = scheduler.OpenSQLiteStorage(cfg.Scheduler.Storage)
		if err != nil {
			return nil, fmt.Errorf("opening reminder store: %w", err)
		}
		storage = rt.storage
	}
	sched, err := scheduler.New(cfg.Scheduler, storage, copilot.ReminderHandler(mgr, logger), logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	tools := relay.NewToolRegistry(logger)
	tools.Register(relay.ScheduleToolName, relay.NewScheduleTool(sched, logger))

	ingestor := media.NewIngestor(cfg.Media, client, sessions, nil, logger)
	conv := relay.New(cfg.RelaySettings(), client, sessions, ingestor, tools, logger)
	guard := access.NewGuard(cfg.AccessSettings(), logger)

	rt.assistant = copilot.New(cfg, mgr, guard, conv, logger)
	rt.assistant.SetScheduler(sched)
	return rt, nil
}

// Close releases resources the assistant does not own.
func (r *botRuntime) Close() {
	if r.storage != nil {
		if err := r.storage.Close(); err != nil {
			r.logger.Error("failed to close reminder store", "error", err)
		}
	}
}
