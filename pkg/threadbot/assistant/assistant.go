// Package assistant defines the port between threadbot and the hosted
// assistant service: threads, streamed runs, tool outputs, files and audio
// transcription. The openai subpackage implements it on top of openai-go.
package assistant

import (
	"context"
	"io"
)

// Threads manages the server-side conversation history objects.
type Threads interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	AppendMessage(ctx context.Context, threadID string, turn Turn) error
}

// Runs starts streamed runs and resumes them with tool outputs.
type Runs interface {
	// StreamRun starts one run of assistantID over the thread.
	StreamRun(ctx context.Context, threadID, assistantID string) EventStream

	// SubmitToolOutputs submits every output for a run in one batch. The
	// returned stream carries the events of the resumed run.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) EventStream

	// CancelRun stops a run that will not be resumed, releasing the thread.
	CancelRun(ctx context.Context, threadID, runID string) error
}

// Files manages remote files attached to the conversation.
type Files interface {
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

// Transcriber turns an audio file on disk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Service is the full assistant-service collaborator.
type Service interface {
	Threads
	Runs
	Files
	Transcriber
}

// EventStream iterates over the events of one streamed run. It follows the
// same Next/Current/Err protocol as the SDK streams it wraps.
type EventStream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// EventKind is the stream event name.
type EventKind string

const (
	EventRunCreated       EventKind = "thread.run.created"
	EventRequiresAction   EventKind = "thread.run.requires_action"
	EventRunCompleted     EventKind = "thread.run.completed"
	EventRunFailed        EventKind = "thread.run.failed"
	EventMessageCompleted EventKind = "thread.message.completed"
	EventError            EventKind = "error"
)

// Event is one streamed run event. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	RunID    string
	ThreadID string

	// ToolCalls is set for EventRequiresAction.
	ToolCalls []ToolCall

	// Message is set for EventMessageCompleted.
	Message *Message

	// Err carries the error message for EventError and EventRunFailed.
	Err string
}

// Message is a completed assistant message.
type Message struct {
	ID      string
	Content []ContentPart
}

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText      PartType = "text"
	PartImageURL  PartType = "image_url"
	PartImageFile PartType = "image_file"
	PartRefusal   PartType = "refusal"
)

// ContentPart is one piece of message content, inbound or outbound.
type ContentPart struct {
	Type PartType

	// Text is set for PartText.
	Text        string
	Annotations []Annotation

	// ImageURL and ImageDetail are set for PartImageURL.
	ImageURL    string
	ImageDetail string

	// ImageFileID is set for PartImageFile.
	ImageFileID string

	// Refusal is set for PartRefusal.
	Refusal string
}

// Annotation marks a span of generated text, such as a file citation.
type Annotation struct {
	Text       string
	StartIndex int64
	EndIndex   int64
}

// Turn is a user message appended to a thread. When Parts is empty the turn
// is the plain Text.
type Turn struct {
	Text        string
	Parts       []ContentPart
	Attachments []Attachment
}

// Attachment references an uploaded file and the tools it is made available to.
type Attachment struct {
	FileID string
	Tools  []string
}

// ToolFileSearch is the only attachment tool threadbot uses.
const ToolFileSearch = "file_search"

// ToolCall is a function call requested by a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput is the result of one ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// TextTurn builds a plain text turn.
func TextTurn(text string) Turn { return Turn{Text: text} }
