// Package access implements the sender allow-list for threadbot.
//
// The bot does not respond to everyone: only usernames listed in the access
// config may reach the assistant. Everyone else receives a single "no access"
// notice per message and nothing else happens.
package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
)

// Config holds the access control configuration.
type Config struct {
	// AllowedUsers are the usernames (without the leading "@") that may
	// interact with the assistant. Empty means nobody.
	AllowedUsers []string `yaml:"allowed_users"`

	// DeniedMessage is sent to senders that are not on the allow-list.
	DeniedMessage string `yaml:"denied_message"`
}

// DefaultConfig returns the default access config: deny everyone.
func DefaultConfig() Config {
	return Config{
		DeniedMessage: "No access",
	}
}

// Notifier is the part of a channel the guard needs to reject a sender.
type Notifier interface {
	Send(ctx context.Context, to string, message *channels.OutgoingMessage) error
}

// Guard checks inbound senders against a fixed allow-list.
type Guard struct {
	allowed map[string]struct{}
	denied  string
	logger  *slog.Logger
}

// NewGuard builds a guard from the config. The allow-list is fixed for the
// lifetime of the guard.
func NewGuard(cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeniedMessage == "" {
		cfg.DeniedMessage = DefaultConfig().DeniedMessage
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		if n := normalize(u); n != "" {
			allowed[n] = struct{}{}
		}
	}
	return &Guard{
		allowed: allowed,
		denied:  cfg.DeniedMessage,
		logger:  logger.With("component", "access"),
	}
}

// IsAllowed reports whether the username is on the allow-list.
// Telegram usernames are case-insensitive, so matching is too.
func (g *Guard) IsAllowed(username string) bool {
	n := normalize(username)
	if n == "" {
		return false
	}
	_, ok := g.allowed[n]
	return ok
}

// Admit returns true when the sender of msg may proceed. Otherwise it sends
// the denied notice back to the originating chat and returns false.
func (g *Guard) Admit(ctx context.Context, n Notifier, msg *channels.IncomingMessage) bool {
	if g.IsAllowed(msg.Username) {
		return true
	}

	g.logger.Info("access denied",
		"channel", msg.Channel,
		"from", msg.From,
		"username", msg.Username,
	)
	if err := n.Send(ctx, msg.ChatID, &channels.OutgoingMessage{Content: g.denied, ParseMode: "none"}); err != nil {
		g.logger.Error("failed to send access denied notice", "chat", msg.ChatID, "error", err)
	}
	return false
}

// Count returns the number of allowed usernames.
func (g *Guard) Count() int { return len(g.allowed) }

func normalize(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
