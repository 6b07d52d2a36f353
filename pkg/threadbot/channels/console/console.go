// Package console implements a local terminal channel. It lets an operator
// talk to the assistant from a shell with the same relay the Telegram bot
// uses.
//
// Input lines are plain text, or one of:
//
//	/photo <url> [caption]   send an image by URL
//	/doc <url> [caption]     send a document or audio file by URL
//	/quit                    leave the session
//
// Any other slash command (/start, /reset) is passed through as text.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
)

// ChatID is the chat identifier of the console session.
const ChatID = "console"

// Config configures the console channel.
type Config struct {
	// Username is reported as the sender's handle, so the access list applies.
	Username string

	// Prompt is the input prompt.
	Prompt string

	// HistoryFile persists input history when set.
	HistoryFile string

	// OutputDir is where assistant-generated images are written.
	OutputDir string

	// Stdin and Stdout override the terminal.
	Stdin  io.ReadCloser
	Stdout io.Writer
}

// Console implements channels.MediaChannel on a terminal.
type Console struct {
	cfg    Config
	logger *slog.Logger

	rl       *readline.Instance
	out      io.Writer
	outMu    sync.Mutex
	messages chan *channels.IncomingMessage

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      out,
		messages: make(chan *channels.IncomingMessage, 16),
		done:     make(chan struct{}),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the terminal and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdin:           c.cfg.Stdin,
		Stdout:          c.cfg.Stdout,
	})
	if err != nil {
		return fmt.Errorf("console: opening terminal: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()

	ctx, c.cancel = context.WithCancel(ctx)
	c.connected.Store(true)
	go c.readLoop(ctx)
	return nil
}

// Disconnect closes the terminal.
func (c *Console) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connected.Store(false)
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Done is closed when the operator leaves the session.
func (c *Console) Done() <-chan struct{} { return c.done }

func (c *Console) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.messages)

	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}

		msg := c.parseLine(line)
		c.lastMsg.Store(time.Now())
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// parseLine turns an input line into an incoming message.
func (c *Console) parseLine(line string) *channels.IncomingMessage {
	msg := &channels.IncomingMessage{
		ID:        strconv.FormatInt(c.seq.Add(1), 10),
		Channel:   "console",
		From:      c.cfg.Username,
		FromName:  c.cfg.Username,
		Username:  c.cfg.Username,
		ChatID:    ChatID,
		Type:      channels.MessageText,
		Content:   line,
		Timestamp: time.Now(),
	}

	cmd, rest, _ := strings.Cut(line, " ")
	var kind channels.MessageType
	switch cmd {
	case "/photo":
		kind = channels.MessageImage
	case "/doc":
		kind = channels.MessageDocument
	default:
		return msg
	}

	url, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if url == "" {
		return msg
	}
	msg.Type = kind
	msg.Content = strings.TrimSpace(caption)
	msg.Media = &channels.MediaInfo{Type: kind, URL: url}
	return msg
}

// Send prints an assistant message.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	return c.println("assistant> " + message.Content)
}

// SendMedia prints image URLs and writes uploaded image data to OutputDir.
func (c *Console) SendMedia(_ context.Context, _ string, media *channels.MediaMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if media.URL != "" {
		return c.println(fmt.Sprintf("assistant> [%s] %s", media.Type, media.URL))
	}

	dir := c.cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	name := media.Filename
	if name == "" {
		name = fmt.Sprintf("media-%d", time.Now().UnixNano())
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("console: creating output dir: %w", err)
	}
	if err := os.WriteFile(path, media.Data, 0o644); err != nil {
		return fmt.Errorf("console: saving %s: %w", name, err)
	}
	return c.println(fmt.Sprintf("assistant> [%s] saved to %s", media.Type, path))
}

// MediaURL returns the URL typed by the operator.
func (c *Console) MediaURL(_ context.Context, msg *channels.IncomingMessage) (string, error) {
	if msg.Media == nil || msg.Media.URL == "" {
		return "", channels.ErrMediaUnavailable
	}
	return msg.Media.URL, nil
}

func (c *Console) println(s string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, s)
	return err
}

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected reports whether the terminal is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

var _ channels.MediaChannel = (*Console)(nil)
