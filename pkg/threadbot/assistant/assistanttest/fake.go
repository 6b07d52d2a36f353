// Package assistanttest provides an in-memory assistant.Service for tests.
package assistanttest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
)

// Call records one invocation on the fake.
type Call struct {
	Method string
	Args   []string
}

// AppendedTurn records a turn appended to a thread.
type AppendedTurn struct {
	ThreadID string
	Turn     assistant.Turn
}

// Submission records one tool output batch.
type Submission struct {
	ThreadID string
	RunID    string
	Outputs  []assistant.ToolOutput
}

// Service is a scriptable fake. Runs and Submits are consumed in order:
// each StreamRun pops the next entry of Runs, each SubmitToolOutputs pops
// the next entry of Submits. A missing entry yields an empty stream.
type Service struct {
	mu sync.Mutex

	Calls       []Call
	Turns       []AppendedTurn
	Submissions []Submission
	Uploaded    map[string][]byte
	Transcribed []string

	// Scripts.
	Runs       [][]assistant.Event
	Submits    [][]assistant.Event
	Contents   map[string][]byte
	Transcript string

	// Injected failures keyed by method name.
	Errors map[string]error

	// ScratchSeen reports, per Transcribe call, whether the file existed.
	ScratchSeen []bool

	threadSeq int
	fileSeq   int
}

// New returns an empty fake.
func New() *Service {
	return &Service{
		Uploaded: make(map[string][]byte),
		Contents: make(map[string][]byte),
		Errors:   make(map[string]error),
	}
}

func (s *Service) record(method string, args ...string) error {
	s.Calls = append(s.Calls, Call{Method: method, Args: args})
	return s.Errors[method]
}

// CallCount returns how many times method was invoked.
func (s *Service) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (s *Service) CreateThread(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateThread"); err != nil {
		return "", err
	}
	s.threadSeq++
	return fmt.Sprintf("thread_%d", s.threadSeq), nil
}

func (s *Service) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("DeleteThread", threadID)
}

func (s *Service) AppendMessage(_ context.Context, threadID string, turn assistant.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("AppendMessage", threadID); err != nil {
		return err
	}
	s.Turns = append(s.Turns, AppendedTurn{ThreadID: threadID, Turn: turn})
	return nil
}

func (s *Service) StreamRun(_ context.Context, threadID, assistantID string) assistant.EventStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("StreamRun", threadID, assistantID); err != nil {
		return &Stream{err: err}
	}
	var events []assistant.Event
	if len(s.Runs) > 0 {
		events, s.Runs = s.Runs[0], s.Runs[1:]
	}
	return &Stream{events: events}
}

func (s *Service) SubmitToolOutputs(_ context.Context, threadID, runID string, outputs []assistant.ToolOutput) assistant.EventStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SubmitToolOutputs", threadID, runID); err != nil {
		return &Stream{err: err}
	}
	s.Submissions = append(s.Submissions, Submission{ThreadID: threadID, RunID: runID, Outputs: outputs})
	var events []assistant.Event
	if len(s.Submits) > 0 {
		events, s.Submits = s.Submits[0], s.Submits[1:]
	}
	return &Stream{events: events}
}

func (s *Service) CancelRun(_ context.Context, threadID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("CancelRun", threadID, runID)
}

func (s *Service) UploadFile(_ context.Context, filename string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UploadFile", filename); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.fileSeq++
	id := fmt.Sprintf("file_%d", s.fileSeq)
	s.Uploaded[id] = data
	return id, nil
}

func (s *Service) DeleteFile(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("DeleteFile", fileID)
}

func (s *Service) FileContent(_ context.Context, fileID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FileContent", fileID); err != nil {
		return nil, err
	}
	data, ok := s.Contents[fileID]
	if !ok {
		return nil, fmt.Errorf("file %q not found", fileID)
	}
	return bytes.Clone(data), nil
}

func (s *Service) Transcribe(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, statErr := os.Stat(path)
	s.ScratchSeen = append(s.ScratchSeen, statErr == nil)
	if err := s.record("Transcribe", path); err != nil {
		return "", err
	}
	s.Transcribed = append(s.Transcribed, path)
	return s.Transcript, nil
}

// Stream replays a fixed list of events.
type Stream struct {
	events []assistant.Event
	cur    assistant.Event
	err    error
	closed bool
}

// NewStream returns a stream over events.
func NewStream(events ...assistant.Event) *Stream { return &Stream{events: events} }

func (s *Stream) Next() bool {
	if s.err != nil || len(s.events) == 0 {
		return false
	}
	s.cur, s.events = s.events[0], s.events[1:]
	return true
}

func (s *Stream) Current() assistant.Event { return s.cur }
func (s *Stream) Err() error               { return s.err }

func (s *Stream) Close() error {
	s.closed = true
	return nil
}

var _ assistant.Service = (*Service)(nil)
