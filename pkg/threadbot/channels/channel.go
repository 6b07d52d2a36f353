// Package channels defines the interfaces and types for threadbot messaging
// channels. The Telegram bot and the local console both implement Channel so
// the relay can receive and reply through either in the same way.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "console").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified recipient. Implementations
	// must be safe for concurrent use: reminders fire from scheduler
	// goroutines while replies are being streamed.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with media capabilities.
type MediaChannel interface {
	Channel

	// SendMedia sends a media message (image, audio, video, document).
	SendMedia(ctx context.Context, to string, media *MediaMessage) error

	// MediaURL resolves the media attached to an incoming message into a URL
	// that can be fetched with a plain HTTP GET.
	MediaURL(ctx context.Context, msg *IncomingMessage) (string, error)
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// Username is the sender's public handle, used by the access guard.
	Username string

	// ChatID is the group or DM identifier. Replies are sent here.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message, or the caption for media.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Media contains media attachment details (if any).
	Media *MediaInfo
}

// OutgoingMessage represents a text message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// ParseMode overrides the channel's default formatting mode.
	// "none" forces plain text.
	ParseMode string
}

// MediaMessage represents a media file to be sent.
type MediaMessage struct {
	// Type is the media type (image, audio, video, document).
	Type MessageType

	// Data is the raw media bytes. Either Data or URL must be set.
	Data []byte

	// URL is a URL to the media file. Either Data or URL must be set.
	URL string

	// MimeType is the MIME type (e.g. "image/png").
	MimeType string

	// Filename is the filename sent with uploaded bytes.
	Filename string

	// Caption is the text caption accompanying the media.
	Caption string
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	// Type is the media type.
	Type MessageType

	// FileID is the platform file reference (Telegram file_id).
	FileID string

	// URL is a direct download URL, when the platform provides one up front.
	URL string

	// MimeType is the MIME type of the media.
	MimeType string

	// Filename is the original filename (for documents).
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64

	// Duration is the duration in seconds (audio/video).
	Duration uint32

	// Width is the width in pixels (images/video).
	Width uint32

	// Height is the height in pixels (images/video).
	Height uint32
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrMediaNotSupported   = errors.New("media not supported by this channel")
	ErrMediaUnavailable    = errors.New("message has no downloadable media")
)
