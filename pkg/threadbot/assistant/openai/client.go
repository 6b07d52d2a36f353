// Package openai implements assistant.Service on the OpenAI Assistants API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
)

const (
	// DefaultBaseURL is the public OpenAI endpoint.
	DefaultBaseURL = "https://api.openai.com/v1/"

	// DefaultTranscriptionModel is used when no model is configured.
	DefaultTranscriptionModel = openaigo.AudioModelWhisper1

	// MaxRetries for non-streaming calls.
	MaxRetries = 2

	// DefaultRequestTimeout bounds each attempt of a non-streaming call.
	// Streamed runs are bounded only by the caller's context.
	DefaultRequestTimeout = 2 * time.Minute
)

// Config configures the OpenAI client.
type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	MaxRetries         int
	RequestTimeout     time.Duration
	HTTPClient         *http.Client
}

// Client is the OpenAI-backed assistant service.
type Client struct {
	sdk                openaigo.Client
	transcriptionModel string
	requestTimeout     time.Duration
	logger             *slog.Logger
}

// New creates a client. The API key is required.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api_key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = MaxRetries
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	model := cfg.TranscriptionModel
	if model == "" {
		model = DefaultTranscriptionModel
	}

	return &Client{
		sdk: openaigo.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(retries),
		),
		transcriptionModel: model,
		requestTimeout:     timeout,
		logger:             logger.With("component", "openai"),
	}, nil
}

// timeout returns the per-request options of non-streaming calls.
func (c *Client) timeout() option.RequestOption {
	return option.WithRequestTimeout(c.requestTimeout)
}

// CreateThread creates an empty thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.sdk.Beta.Threads.New(ctx, openaigo.BetaThreadNewParams{}, c.timeout())
	if err != nil {
		return "", fmt.Errorf("openai: creating thread: %w", err)
	}
	c.logger.Info("thread created", "thread", thread.ID)
	return thread.ID, nil
}

// DeleteThread deletes a thread.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.sdk.Beta.Threads.Delete(ctx, threadID, c.timeout()); err != nil {
		return fmt.Errorf("openai: deleting thread %s: %w", threadID, err)
	}
	return nil
}

// AppendMessage adds a user message to the thread.
func (c *Client) AppendMessage(ctx context.Context, threadID string, turn assistant.Turn) error {
	if _, err := c.sdk.Beta.Threads.Messages.New(ctx, threadID, messageParams(turn), c.timeout()); err != nil {
		return fmt.Errorf("openai: appending message: %w", err)
	}
	return nil
}

// StreamRun starts a streamed run.
func (c *Client) StreamRun(ctx context.Context, threadID, assistantID string) assistant.EventStream {
	return &eventStream{
		stream: c.sdk.Beta.Threads.Runs.NewStreaming(ctx, threadID, openaigo.BetaThreadRunNewParams{
			AssistantID: assistantID,
		}),
	}
}

// SubmitToolOutputs resumes a run that requires action.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) assistant.EventStream {
	params := openaigo.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openaigo.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, o := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openaigo.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openaigo.String(o.ToolCallID),
			Output:     openaigo.String(o.Output),
		})
	}
	return &eventStream{
		stream: c.sdk.Beta.Threads.Runs.SubmitToolOutputsStreaming(ctx, threadID, runID, params),
	}
}

// CancelRun cancels a run, typically one left waiting for tool outputs.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	run, err := c.sdk.Beta.Threads.Runs.Cancel(ctx, threadID, runID, c.timeout())
	if err != nil {
		return fmt.Errorf("openai: cancelling run %s: %w", runID, err)
	}
	c.logger.Info("run cancelled", "thread", threadID, "run", runID, "status", run.Status)
	return nil
}

// UploadFile uploads r for use by assistants.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj, err := c.sdk.Files.New(ctx, openaigo.FileNewParams{
		File:    openaigo.File(r, filename, contentType),
		Purpose: openaigo.FilePurposeAssistants,
	}, c.timeout())
	if err != nil {
		return "", fmt.Errorf("openai: uploading %s: %w", filename, err)
	}
	c.logger.Debug("file uploaded", "file", obj.ID, "name", filename)
	return obj.ID, nil
}

// DeleteFile deletes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := c.sdk.Files.Delete(ctx, fileID, c.timeout()); err != nil {
		return fmt.Errorf("openai: deleting file %s: %w", fileID, err)
	}
	return nil
}

// FileContent downloads a file's bytes.
func (c *Client) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.sdk.Files.Content(ctx, fileID, c.timeout())
	if err != nil {
		return nil, fmt.Errorf("openai: fetching file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: reading file %s: %w", fileID, err)
	}
	return data, nil
}

// Transcribe transcribes the audio file at path. The file extension tells
// the service which format to expect.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("openai: opening audio: %w", err)
	}
	defer f.Close()

	res, err := c.sdk.Audio.Transcriptions.New(ctx, openaigo.AudioTranscriptionNewParams{
		File:  f,
		Model: c.transcriptionModel,
	}, c.timeout())
	if err != nil {
		return "", fmt.Errorf("openai: transcribing: %w", err)
	}
	return res.Text, nil
}

// eventStream adapts the SDK stream to assistant.EventStream. The SDK returns
// a nil stream when a required path parameter is missing.
type eventStream struct {
	stream *ssestream.Stream[openaigo.AssistantStreamEventUnion]
	cur    assistant.Event
}

var errNoStream = errors.New("openai: stream was not opened (missing thread or run id)")

func (s *eventStream) Next() bool {
	if s.stream == nil || !s.stream.Next() {
		return false
	}
	s.cur = convertEvent(s.stream.Current())
	return true
}

func (s *eventStream) Current() assistant.Event { return s.cur }

func (s *eventStream) Err() error {
	if s.stream == nil {
		return errNoStream
	}
	return s.stream.Err()
}

func (s *eventStream) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

var _ assistant.Service = (*Client)(nil)
