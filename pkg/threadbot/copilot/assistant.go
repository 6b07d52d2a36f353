// Package copilot wires the threadbot components together: channels feed the
// message loop, the access guard filters senders, and the relay carries
// admitted messages to the assistant service and back.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jholhewres/threadbot/pkg/threadbot/access"
	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
	"github.com/jholhewres/threadbot/pkg/threadbot/relay"
	"github.com/jholhewres/threadbot/pkg/threadbot/scheduler"
)

// Conversation is the part of the relay the message loop drives.
type Conversation interface {
	SendText(ctx context.Context, out relay.Outbound, sender relay.Sender, text string) error
	SendPhoto(ctx context.Context, out relay.Outbound, sender relay.Sender, url, caption string) error
	SendDocument(ctx context.Context, out relay.Outbound, sender relay.Sender, url, caption string) error
	Reset(ctx context.Context) (string, error)
}

// Assistant is the main orchestrator.
type Assistant struct {
	config     *Config
	channelMgr *channels.Manager
	guard      *access.Guard
	relay      Conversation
	scheduler  *scheduler.Scheduler
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the assistant. The scheduler is optional and set with
// SetScheduler.
func New(cfg *Config, mgr *channels.Manager, guard *access.Guard, conv Conversation, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		config:     cfg,
		channelMgr: mgr,
		guard:      guard,
		relay:      conv,
		logger:     logger.With("component", "copilot"),
	}
}

// SetScheduler configures the reminder scheduler started with the assistant.
func (a *Assistant) SetScheduler(s *scheduler.Scheduler) {
	a.scheduler = s
}

// ChannelManager returns the channel manager.
func (a *Assistant) ChannelManager() *channels.Manager {
	return a.channelMgr
}

// Start connects the channels, starts the scheduler and begins processing
// messages.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting threadbot",
		"name", a.config.Name,
		"assistant_id", a.config.API.AssistantID,
		"allowed_users", a.guard.Count(),
	)

	if err := a.channelMgr.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(a.ctx); err != nil {
			a.logger.Error("failed to start scheduler", "error", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.messageLoop()
	}()

	a.logger.Info("threadbot started")
	return nil
}

// Stop halts message processing, the scheduler and the channels.
func (a *Assistant) Stop() {
	a.logger.Info("stopping threadbot")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.channelMgr.Stop()
	a.logger.Info("threadbot stopped")
}

// messageLoop handles one message at a time, in arrival order.
func (a *Assistant) messageLoop() {
	for {
		select {
		case msg, ok := <-a.channelMgr.Messages():
			if !ok {
				return
			}
			a.handleMessage(a.ctx, msg)

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Assistant) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	logger := a.logger.With(
		"channel", msg.Channel,
		"chat", msg.ChatID,
		"from", msg.From,
		"msg_id", msg.ID,
	)
	logger.Info("incoming message", "type", msg.Type)

	ch, ok := a.channelMgr.MediaChannel(msg.Channel)
	if !ok {
		logger.Warn("channel cannot carry replies, dropping message")
		return
	}

	if !a.guard.Admit(ctx, ch, msg) {
		return
	}

	sender := relay.Sender{Channel: msg.Channel, ChatID: msg.ChatID, Username: msg.Username}

	var err error
	switch msg.Type {
	case channels.MessageText:
		if cmd, isCmd := parseCommand(msg.Content); isCmd {
			a.handleCommand(ctx, ch, msg, cmd)
			return
		}
		err = a.relay.SendText(ctx, ch, sender, msg.Content)

	case channels.MessageImage:
		var url string
		if url, err = ch.MediaURL(ctx, msg); err == nil {
			err = a.relay.SendPhoto(ctx, ch, sender, url, msg.Content)
		}

	case channels.MessageDocument, channels.MessageAudio:
		var url string
		if url, err = ch.MediaURL(ctx, msg); err == nil {
			err = a.relay.SendDocument(ctx, ch, sender, url, msg.Content)
		}

	default:
		logger.Debug("unsupported message type ignored", "type", msg.Type)
		return
	}

	if err != nil {
		logger.Error("failed to relay message", "error", err)
	}
}

func (a *Assistant) handleCommand(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage, cmd string) {
	switch cmd {
	case "start":
		a.reply(ctx, ch, msg, a.config.Access.Greeting)

	case "reset":
		threadID, err := a.relay.Reset(ctx)
		if err != nil {
			a.logger.Error("reset failed", "error", err)
			return
		}
		a.logger.Info("conversation reset", "thread", threadID, "by", msg.Username)
		a.reply(ctx, ch, msg, a.config.Access.ResetMessage)

	default:
		a.logger.Debug("unknown command ignored", "command", cmd)
	}
}

func (a *Assistant) reply(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage, text string) {
	if text == "" {
		return
	}
	if err := ch.Send(ctx, msg.ChatID, &channels.OutgoingMessage{Content: text, ReplyTo: msg.ID}); err != nil {
		a.logger.Error("failed to send reply", "chat", msg.ChatID, "error", err)
	}
}

// parseCommand extracts the command name from "/name@bot args".
func parseCommand(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	name := strings.TrimPrefix(strings.Fields(content)[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), true
}

// ReminderHandler delivers fired reminders through the channel they were
// scheduled from.
func ReminderHandler(mgr *channels.Manager, logger *slog.Logger) scheduler.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reminders")
	return func(ctx context.Context, r *scheduler.Reminder) error {
		logger.Info("delivering reminder", "id", r.ID, "channel", r.Channel, "recipient", r.Recipient)
		return mgr.Send(ctx, r.Channel, r.Recipient, &channels.OutgoingMessage{Content: r.Text()})
	}
}
