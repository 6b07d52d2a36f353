// Package relay appends user turns to the shared conversation thread, starts
// streamed assistant runs and routes their events back to the sender.
//
// All allowed senders share a single thread: the bot is a single-tenant
// assistant with one memory. Runs are serialized because the assistant
// service rejects new messages on a thread while a run is active.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
)

// Config configures the relay.
type Config struct {
	// AssistantID is the assistant every run is bound to.
	AssistantID string `yaml:"assistant_id"`

	// ImageDetail is the detail level requested for inbound photos.
	ImageDetail string `yaml:"image_detail"`

	// MaxToolRounds bounds how many tool output submissions one run may make.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// DefaultConfig returns the default relay config.
func DefaultConfig() Config {
	return Config{
		ImageDetail:   "high",
		MaxToolRounds: 8,
	}
}

// Sessions provides the current thread.
type Sessions interface {
	ThreadID(ctx context.Context) (string, error)
	Reset(ctx context.Context) (string, error)
}

// DocumentIngestor turns a document URL into a user turn.
type DocumentIngestor interface {
	Ingest(ctx context.Context, url, caption string) (assistant.Turn, error)
}

// Relay is the conversation relay.
type Relay struct {
	cfg      Config
	svc      assistant.Service
	sessions Sessions
	ingestor DocumentIngestor
	tools    *ToolRegistry
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a relay.
func New(cfg Config, svc assistant.Service, sessions Sessions, ingestor DocumentIngestor, tools *ToolRegistry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ImageDetail == "" {
		cfg.ImageDetail = def.ImageDetail
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = def.MaxToolRounds
	}
	if tools == nil {
		tools = NewToolRegistry(logger)
	}
	return &Relay{
		cfg:      cfg,
		svc:      svc,
		sessions: sessions,
		ingestor: ingestor,
		tools:    tools,
		logger:   logger.With("component", "relay"),
	}
}

// SendText appends text as a user turn and streams the reply to sender.
func (r *Relay) SendText(ctx context.Context, out Outbound, sender Sender, text string) error {
	return r.converse(ctx, out, sender, func(context.Context) (assistant.Turn, error) {
		return assistant.TextTurn(text), nil
	})
}

// SendPhoto appends an image turn referencing url, followed by the caption
// as a text part when present, and streams the reply to sender.
func (r *Relay) SendPhoto(ctx context.Context, out Outbound, sender Sender, url, caption string) error {
	return r.converse(ctx, out, sender, func(context.Context) (assistant.Turn, error) {
		return PhotoTurn(url, caption, r.cfg.ImageDetail), nil
	})
}

// SendDocument ingests the document at url (transcribing audio, uploading
// anything else) and streams the reply to sender.
func (r *Relay) SendDocument(ctx context.Context, out Outbound, sender Sender, url, caption string) error {
	return r.converse(ctx, out, sender, func(ctx context.Context) (assistant.Turn, error) {
		return r.ingestor.Ingest(ctx, url, caption)
	})
}

// Reset starts a fresh conversation thread.
func (r *Relay) Reset(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Reset(ctx)
}

// PhotoTurn builds an image-content user turn.
func PhotoTurn(url, caption, detail string) assistant.Turn {
	parts := []assistant.ContentPart{{
		Type:        assistant.PartImageURL,
		ImageURL:    url,
		ImageDetail: detail,
	}}
	if caption != "" {
		parts = append(parts, assistant.ContentPart{Type: assistant.PartText, Text: caption})
	}
	return assistant.Turn{Parts: parts}
}

// converse appends exactly one turn and runs a fresh dispatcher scoped to
// this run and sender.
func (r *Relay) converse(ctx context.Context, out Outbound, sender Sender, build func(context.Context) (assistant.Turn, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	threadID, err := r.sessions.ThreadID(ctx)
	if err != nil {
		return fmt.Errorf("relay: resolving thread: %w", err)
	}

	turn, err := build(ctx)
	if err != nil {
		return err
	}
	if err := r.svc.AppendMessage(ctx, threadID, turn); err != nil {
		return fmt.Errorf("relay: appending message: %w", err)
	}

	r.logger.Debug("run started", "thread", threadID, "chat", sender.ChatID)

	d := &dispatcher{
		runs:      r.svc,
		files:     r.svc,
		tools:     r.tools,
		out:       out,
		sender:    sender,
		threadID:  threadID,
		maxRounds: r.cfg.MaxToolRounds,
		logger:    r.logger.With("chat", sender.ChatID),
	}
	if err := d.run(ctx, r.svc.StreamRun(ctx, threadID, r.cfg.AssistantID)); err != nil {
		return fmt.Errorf("relay: run: %w", err)
	}
	return nil
}
