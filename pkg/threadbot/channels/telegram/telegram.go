// Package telegram implements the Telegram channel for threadbot using the
// Telegram Bot API directly over HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Text, photo, audio, voice and document intake
//   - Media URL resolution via getFile
//   - Outgoing text chunked to the Bot API limit, with a plain-text fallback
//     when the parse mode rejects the content
//   - Photo and document delivery by URL or multipart upload
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
)

const (
	// DefaultAPIBaseURL is the public Bot API endpoint.
	DefaultAPIBaseURL = "https://api.telegram.org"

	// MaxMessageLength is the Bot API limit for one text message.
	MaxMessageLength = 4096

	// ParseModeNone disables formatting for a message.
	ParseModeNone = "none"
)

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIBaseURL overrides the Bot API endpoint.
	APIBaseURL string `yaml:"api_base_url"`

	// ParseMode is the default parse mode for outgoing text ("Markdown",
	// "MarkdownV2", "HTML" or "none").
	ParseMode string `yaml:"parse_mode"`

	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`

	// RespondToGroups enables responding in group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:      DefaultAPIBaseURL,
		ParseMode:       "Markdown",
		PollTimeout:     30,
		RespondToGroups: true,
	}
}

// Telegram implements channels.Channel and channels.MediaChannel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is <api>/bot<token>, fileURL is <api>/file/bot<token>.
	baseURL string
	fileURL string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1. Only the poll loop touches it.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = def.ParseMode
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	api := strings.TrimRight(cfg.APIBaseURL, "/")

	return &Telegram{
		cfg:    cfg,
		logger: logger.With("component", "telegram"),
		// Must outlive the long-poll timeout.
		client:   &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
		baseURL:  api + "/bot" + cfg.Token,
		fileURL:  api + "/file/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe(t.ctx)
	if err != nil {
		t.cancel()
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	t.wg.Add(1)
	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop and waits for it to exit.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send sends a text message, split into as many Bot API messages as needed.
// If Telegram rejects the formatting, the chunk is resent as plain text.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	parseMode := message.ParseMode
	if parseMode == "" {
		parseMode = t.cfg.ParseMode
	}

	for i, chunk := range SplitMessage(message.Content, MaxMessageLength) {
		payload := map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}
		if i == 0 && message.ReplyTo != "" {
			if msgID, e := strconv.ParseInt(message.ReplyTo, 10, 64); e == nil {
				payload["reply_parameters"] = map[string]any{"message_id": msgID}
			}
		}
		if parseMode != ParseModeNone {
			payload["parse_mode"] = parseMode
		}

		_, err := t.apiCall(ctx, "sendMessage", payload)
		if err != nil && parseMode != ParseModeNone && isParseError(err) {
			t.logger.Debug("telegram: formatting rejected, resending as plain text", "chat", to)
			delete(payload, "parse_mode")
			_, err = t.apiCall(ctx, "sendMessage", payload)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// SendMedia sends a photo or file by URL or by uploading Data.
func (t *Telegram) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	method, fieldName := "sendDocument", "document"
	switch media.Type {
	case channels.MessageImage:
		method, fieldName = "sendPhoto", "photo"
	case channels.MessageAudio:
		method, fieldName = "sendAudio", "audio"
	case channels.MessageVideo:
		method, fieldName = "sendVideo", "video"
	}

	if media.URL != "" {
		payload := map[string]any{
			"chat_id": chatID,
			fieldName: media.URL,
		}
		if media.Caption != "" {
			payload["caption"] = media.Caption
		}
		_, err = t.apiCall(ctx, method, payload)
		return err
	}
	return t.uploadFile(ctx, method, chatID, fieldName, media)
}

// MediaURL resolves the file attached to msg into a downloadable URL. The
// URL embeds the bot token and must not be logged.
func (t *Telegram) MediaURL(ctx context.Context, msg *channels.IncomingMessage) (string, error) {
	if msg.Media == nil || msg.Media.FileID == "" {
		return "", channels.ErrMediaUnavailable
	}
	file, err := t.getFile(ctx, msg.Media.FileID)
	if err != nil {
		return "", fmt.Errorf("telegram: getFile failed: %w", err)
	}
	if file.FilePath == "" {
		return "", channels.ErrMediaUnavailable
	}
	return t.fileURL + "/" + file.FilePath, nil
}

// pollLoop runs the getUpdates long-polling loop.
func (t *Telegram) pollLoop() {
	defer t.wg.Done()
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.ctx, t.offset, 100, t.cfg.PollTimeout)
		if err != nil {
			if t.ctx.Err() != nil {
				continue
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)
		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
func (t *Telegram) processUpdate(u tgUpdate) {
	msg := u.Message
	if msg == nil {
		return
	}

	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup && !t.cfg.RespondToGroups {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.FormatInt(int64(msg.MessageID), 10),
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:   isGroup,
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		incoming.From = strconv.FormatInt(msg.From.ID, 10)
		incoming.Username = msg.From.Username
		incoming.FromName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if incoming.FromName == "" {
			incoming.FromName = msg.From.Username
		}
	}
	if msg.Caption != "" && incoming.Content == "" {
		incoming.Content = msg.Caption
	}

	switch {
	case len(msg.Photo) > 0:
		photo := largestPhoto(msg.Photo)
		incoming.Type = channels.MessageImage
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageImage,
			FileID:   photo.FileID,
			FileSize: uint64(photo.FileSize),
			Width:    uint32(photo.Width),
			Height:   uint32(photo.Height),
		}
	case msg.Audio != nil:
		incoming.Type = channels.MessageAudio
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			FileID:   msg.Audio.FileID,
			MimeType: msg.Audio.MimeType,
			Filename: msg.Audio.FileName,
			FileSize: uint64(msg.Audio.FileSize),
			Duration: uint32(msg.Audio.Duration),
		}
	case msg.Voice != nil:
		incoming.Type = channels.MessageAudio
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			FileID:   msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: uint64(msg.Voice.FileSize),
			Duration: uint32(msg.Voice.Duration),
		}
	case msg.Document != nil:
		incoming.Type = channels.MessageDocument
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageDocument,
			FileID:   msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			FileSize: uint64(msg.Document.FileSize),
			Filename: msg.Document.FileName,
		}
	case msg.Video != nil:
		incoming.Type = channels.MessageVideo
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVideo,
			FileID:   msg.Video.FileID,
			MimeType: msg.Video.MimeType,
			FileSize: uint64(msg.Video.FileSize),
		}
	case msg.Sticker != nil:
		incoming.Type = channels.MessageSticker
		incoming.Media = &channels.MediaInfo{Type: channels.MessageSticker, FileID: msg.Sticker.FileID}
	}

	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// largestPhoto picks the size with the greatest pixel area. Telegram usually
// orders sizes ascending, but the order is not guaranteed.
func largestPhoto(sizes []tgPhoto) tgPhoto {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// SplitMessage splits text into chunks of at most limit UTF-16 code units,
// the unit Telegram counts message length in, preferring to break at
// newlines, then at spaces.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	fit := utf16Fit(runes, limit)
	if fit == len(runes) {
		return []string{text}
	}

	var chunks []string
	for fit < len(runes) {
		cut := fit
		if i := lastIndexRune(runes[:fit], '\n'); i > fit/2 {
			cut = i + 1
		} else if i := lastIndexRune(runes[:fit], ' '); i > fit/2 {
			cut = i + 1
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		fit = utf16Fit(runes, limit)
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// utf16Fit returns how many leading runes of rs fit in limit UTF-16 code
// units. It is at least 1 for non-empty rs so splitting always advances.
func utf16Fit(rs []rune, limit int) int {
	units := 0
	for i, r := range rs {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			return max(i, 1)
		}
		units += n
	}
	return len(rs)
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int         `json:"message_id"`
	From      *tgUser     `json:"from"`
	Chat      tgChat      `json:"chat"`
	Date      int         `json:"date"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Photo     []tgPhoto   `json:"photo"`
	Audio     *tgAudio    `json:"audio"`
	Voice     *tgVoice    `json:"voice"`
	Video     *tgVideo    `json:"video"`
	Document  *tgDocument `json:"document"`
	Sticker   *tgSticker  `json:"sticker"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgPhoto struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size"`
}

type tgAudio struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgVideo struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgSticker struct {
	FileID string `json:"file_id"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int    `json:"file_size"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ---------- API Helpers ----------

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %s", e.Method, e.Description)
}

func isParseError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "can't parse entities")
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// apiCall makes a JSON POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, method)
}

func (t *Telegram) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, &APIError{Method: method, Code: result.ErrorCode, Description: result.Description}
	}
	return result.Result, nil
}

func (t *Telegram) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) getFile(ctx context.Context, fileID string) (*tgFile, error) {
	data, err := t.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &file, nil
}

// uploadFile uploads media.Data using multipart form data.
func (t *Telegram) uploadFile(ctx context.Context, method string, chatID int64, fieldName string, media *channels.MediaMessage) error {
	if len(media.Data) == 0 {
		return fmt.Errorf("telegram: media data is required for upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if media.Caption != "" {
		_ = w.WriteField("caption", media.Caption)
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		return fmt.Errorf("telegram: creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(media.Data)); err != nil {
		return fmt.Errorf("telegram: writing file data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("telegram: closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, &buf)
	if err != nil {
		return fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	_, err = t.do(req, method)
	return err
}

var (
	_ channels.Channel      = (*Telegram)(nil)
	_ channels.MediaChannel = (*Telegram)(nil)
)
