// Package media turns inbound documents into assistant turns: audio is
// transcribed into text, everything else is uploaded and attached for file
// search.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
)

// Errors.
var (
	ErrUnknownExtension = errors.New("media: unknown file extension")
	ErrTooLarge         = errors.New("media: download exceeds size limit")
)

// Config configures the ingestor.
type Config struct {
	// ScratchDir holds transient audio files while they are transcribed.
	ScratchDir string `yaml:"scratch_dir"`

	// MaxDownloadSize caps the bytes fetched for one document.
	MaxDownloadSize int64 `yaml:"max_download_size"`

	// AttachmentPlaceholder is the message text used for an uploaded file
	// that arrives without a caption.
	AttachmentPlaceholder string `yaml:"attachment_placeholder"`

	// DownloadTimeout bounds a single document fetch.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// DefaultConfig returns the default ingestor config.
func DefaultConfig() Config {
	return Config{
		ScratchDir:            "audio",
		MaxDownloadSize:       25 * 1024 * 1024, // 25MB (transcription limit)
		AttachmentPlaceholder: "Input data",
		DownloadTimeout:       60 * time.Second,
	}
}

// Remote is the part of the assistant service the ingestor calls.
type Remote interface {
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
	Transcribe(ctx context.Context, path string) (string, error)
}

// UploadRecorder records uploaded file ids in the session.
type UploadRecorder interface {
	AddUpload(fileID string) error
}

// Ingestor prepares document turns.
type Ingestor struct {
	cfg     Config
	remote  Remote
	uploads UploadRecorder
	client  *http.Client
	logger  *slog.Logger
}

// NewIngestor creates an ingestor. A nil client uses a client with the
// configured download timeout.
func NewIngestor(cfg Config, remote Remote, uploads UploadRecorder, client *http.Client, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = def.ScratchDir
	}
	if cfg.MaxDownloadSize <= 0 {
		cfg.MaxDownloadSize = def.MaxDownloadSize
	}
	if cfg.AttachmentPlaceholder == "" {
		cfg.AttachmentPlaceholder = def.AttachmentPlaceholder
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.DownloadTimeout}
	}
	return &Ingestor{
		cfg:     cfg,
		remote:  remote,
		uploads: uploads,
		client:  client,
		logger:  logger.With("component", "media"),
	}
}

// Ingest fetches the document at url and returns the user turn to append.
// The extension is checked before anything is fetched or uploaded.
func (i *Ingestor) Ingest(ctx context.Context, url, caption string) (assistant.Turn, error) {
	kind, mimeType, err := Classify(url)
	if err != nil {
		return assistant.Turn{}, fmt.Errorf("%w: %q", err, Extension(url))
	}

	data, err := i.fetch(ctx, url)
	if err != nil {
		return assistant.Turn{}, err
	}

	ext := Extension(url)
	i.logger.Debug("document fetched", "kind", kind, "mime", mimeType, "size", len(data))

	if kind == KindAudio {
		text, err := i.transcribe(ctx, data, ext)
		if err != nil {
			return assistant.Turn{}, err
		}
		return assistant.TextTurn(text), nil
	}

	name := uuid.NewString() + ext
	fileID, err := i.remote.UploadFile(ctx, name, bytes.NewReader(data))
	if err != nil {
		return assistant.Turn{}, fmt.Errorf("media: uploading %s: %w", name, err)
	}
	if err := i.uploads.AddUpload(fileID); err != nil {
		// The file is attached anyway; it just will not be cleaned up on reset.
		i.logger.Error("failed to record upload", "file", fileID, "error", err)
	}

	text := caption
	if text == "" {
		text = i.cfg.AttachmentPlaceholder
	}
	return assistant.Turn{
		Text: text,
		Attachments: []assistant.Attachment{{
			FileID: fileID,
			Tools:  []string{assistant.ToolFileSearch},
		}},
	}, nil
}

// transcribe writes the audio to a uniquely named scratch file, transcribes
// it and removes the file whatever the outcome.
func (i *Ingestor) transcribe(ctx context.Context, data []byte, ext string) (string, error) {
	if mapped, ok := transcribeExtension[ext]; ok {
		ext = mapped
	}
	if err := os.MkdirAll(i.cfg.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("media: creating scratch dir: %w", err)
	}

	path := filepath.Join(i.cfg.ScratchDir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("media: writing scratch file: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			i.logger.Warn("failed to remove scratch file", "path", path, "error", err)
		}
	}()

	text, err := i.remote.Transcribe(ctx, path)
	if err != nil {
		return "", fmt.Errorf("media: transcribing: %w", err)
	}
	return text, nil
}

func (i *Ingestor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("media: creating request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media: download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, i.cfg.MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("media: reading body: %w", err)
	}
	if int64(len(data)) > i.cfg.MaxDownloadSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
