// Package copilot – config.go defines the configuration structures for the
// threadbot assistant.
package copilot

import (
	"github.com/jholhewres/threadbot/pkg/threadbot/access"
	"github.com/jholhewres/threadbot/pkg/threadbot/channels/telegram"
	"github.com/jholhewres/threadbot/pkg/threadbot/media"
	"github.com/jholhewres/threadbot/pkg/threadbot/relay"
	"github.com/jholhewres/threadbot/pkg/threadbot/scheduler"
	"github.com/jholhewres/threadbot/pkg/threadbot/session"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the bot name used in logs.
	Name string `yaml:"name"`

	// StateDir holds the thread and upload records.
	StateDir string `yaml:"state_dir"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// API configures the assistant service.
	API APIConfig `yaml:"api"`

	// Access configures who may use the bot and what they are told.
	Access AccessConfig `yaml:"access"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Media configures document and audio intake.
	Media media.Config `yaml:"media"`

	// Scheduler configures reminders.
	Scheduler scheduler.Config `yaml:"scheduler"`

	// Relay configures run handling.
	Relay RelayConfig `yaml:"relay"`
}

// APIConfig configures the OpenAI Assistants API.
type APIConfig struct {
	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is the API key. Prefer the keyring or OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// AssistantID is the pre-configured assistant every run uses.
	AssistantID string `yaml:"assistant_id"`

	// TranscriptionModel is used for voice and audio files.
	TranscriptionModel string `yaml:"transcription_model"`

	// ImageDetail is requested for inbound photos ("low", "high", "auto").
	ImageDetail string `yaml:"image_detail"`
}

// AccessConfig configures the allow-list and fixed replies.
type AccessConfig struct {
	// AllowedUsers lists usernames that may talk to the bot.
	AllowedUsers []string `yaml:"allowed_users"`

	// DeniedMessage is sent to everyone else.
	DeniedMessage string `yaml:"denied_message"`

	// Greeting answers /start.
	Greeting string `yaml:"greeting"`

	// ResetMessage confirms /reset.
	ResetMessage string `yaml:"reset_message"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
}

// RelayConfig configures run handling.
type RelayConfig struct {
	// MaxToolRounds bounds tool output submissions per run.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	rc := relay.DefaultConfig()
	ac := access.DefaultConfig()
	return &Config{
		Name:     "threadbot",
		StateDir: session.DefaultConfig().Dir,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		API: APIConfig{
			TranscriptionModel: "whisper-1",
			ImageDetail:        rc.ImageDetail,
		},
		Access: AccessConfig{
			DeniedMessage: ac.DeniedMessage,
			Greeting:      "Hello, I am your personal assistant!",
			ResetMessage:  "Conversation reset.",
		},
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
		},
		Media:     media.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Relay: RelayConfig{
			MaxToolRounds: rc.MaxToolRounds,
		},
	}
}

// SessionSettings derives the thread store config.
func (c *Config) SessionSettings() session.Config {
	sc := session.DefaultConfig()
	if c.StateDir != "" {
		sc.Dir = c.StateDir
	}
	return sc
}

// RelaySettings derives the relay config.
func (c *Config) RelaySettings() relay.Config {
	return relay.Config{
		AssistantID:   c.API.AssistantID,
		ImageDetail:   c.API.ImageDetail,
		MaxToolRounds: c.Relay.MaxToolRounds,
	}
}

// AccessSettings derives the guard config.
func (c *Config) AccessSettings() access.Config {
	return access.Config{
		AllowedUsers:  c.Access.AllowedUsers,
		DeniedMessage: c.Access.DeniedMessage,
	}
}
