// Package session persists the single conversation thread shared by every
// allowed sender, plus the ids of files uploaded into it.
//
// State lives in two flat files in the state directory: one holds the thread
// id as raw text, the other holds newline-separated uploaded file ids. An
// empty or missing file means "not created yet" / "nothing pending".
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoThread is returned when no thread id is available and one could not
// be created.
var ErrNoThread = errors.New("session: no active thread")

// Config configures where the session files live.
type Config struct {
	// Dir is the state directory. Defaults to the working directory.
	Dir string `yaml:"dir"`

	// ThreadFile is the name of the file holding the thread id.
	ThreadFile string `yaml:"thread_file"`

	// FilesFile is the name of the file holding uploaded file ids.
	FilesFile string `yaml:"files_file"`
}

// DefaultConfig returns the default file names.
func DefaultConfig() Config {
	return Config{
		Dir:        ".",
		ThreadFile: ".thread",
		FilesFile:  ".files",
	}
}

// Remote is the part of the assistant service the store drives.
type Remote interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	DeleteFile(ctx context.Context, fileID string) error
}

// Store owns the current thread id and the pending upload set.
type Store struct {
	threadPath string
	filesPath  string
	remote     Remote
	logger     *slog.Logger

	mu       sync.Mutex
	threadID string
}

// New creates a store. Nothing is read until Load.
func New(cfg Config, remote Remote, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.ThreadFile == "" {
		cfg.ThreadFile = def.ThreadFile
	}
	if cfg.FilesFile == "" {
		cfg.FilesFile = def.FilesFile
	}
	return &Store{
		threadPath: filepath.Join(cfg.Dir, cfg.ThreadFile),
		filesPath:  filepath.Join(cfg.Dir, cfg.FilesFile),
		remote:     remote,
		logger:     logger.With("component", "session"),
	}
}

// Load reads the persisted thread id. When the file is missing or empty a
// new remote thread is created and persisted. Failures are logged and
// returned; the store stays usable and ThreadID retries later.
func (s *Store) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.threadPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("failed to read thread file", "path", s.threadPath, "error", err)
		return "", fmt.Errorf("session: reading %s: %w", s.threadPath, err)
	}

	if id := strings.TrimSpace(string(data)); id != "" {
		s.threadID = id
		s.logger.Info("thread loaded", "thread", id)
		return id, nil
	}

	id, err := s.remote.CreateThread(ctx)
	if err != nil {
		s.logger.Error("failed to create thread", "error", err)
		return "", fmt.Errorf("session: creating thread: %w", err)
	}
	if err := s.writeThread(id); err != nil {
		s.logger.Error("failed to persist thread id", "path", s.threadPath, "error", err)
		// The thread exists remotely; keep using it for this process.
		s.threadID = id
		return id, err
	}
	s.threadID = id
	s.logger.Info("thread created", "thread", id)
	return id, nil
}

// ThreadID returns the current thread id, loading or creating it on demand.
func (s *Store) ThreadID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != "" {
		return s.threadID, nil
	}
	id, err := s.loadLocked(ctx)
	if id == "" {
		if err == nil {
			err = ErrNoThread
		}
		return "", err
	}
	return id, nil
}

// Reset replaces the current thread with a fresh one: the remote thread is
// deleted, every pending upload is deleted best-effort, a new thread is
// created and persisted, and the upload set is cleared.
//
// Reset is not atomic across the remote calls. The thread file is emptied
// right after the delete, so a failed create or a crash before the new id is
// written leaves no stale id behind; the next ThreadID or Load creates one.
func (s *Store) Reset(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.threadID
	if old == "" {
		if data, err := os.ReadFile(s.threadPath); err == nil {
			old = strings.TrimSpace(string(data))
		}
	}

	if old != "" {
		if err := s.remote.DeleteThread(ctx, old); err != nil {
			s.logger.Warn("failed to delete thread", "thread", old, "error", err)
		}
		// An empty file makes the next Load create a thread if we stop here.
		s.threadID = ""
		if err := s.writeThread(""); err != nil {
			s.logger.Error("failed to clear thread file", "path", s.threadPath, "error", err)
		}
	}

	uploads, err := s.readUploads()
	if err != nil {
		s.logger.Error("failed to read upload list", "path", s.filesPath, "error", err)
	}
	for _, fileID := range uploads {
		if err := s.remote.DeleteFile(ctx, fileID); err != nil {
			s.logger.Warn("failed to delete uploaded file", "file", fileID, "error", err)
		}
	}

	id, err := s.remote.CreateThread(ctx)
	if err != nil {
		s.threadID = ""
		return "", fmt.Errorf("session: creating thread: %w", err)
	}
	s.threadID = id
	if err := s.writeThread(id); err != nil {
		return id, fmt.Errorf("session: persisting thread: %w", err)
	}
	if err := s.writeFile(s.filesPath, ""); err != nil {
		return id, fmt.Errorf("session: clearing uploads: %w", err)
	}

	s.logger.Info("session reset", "old_thread", old, "thread", id, "deleted_files", len(uploads))
	return id, nil
}

// AddUpload appends a remote file id to the pending upload set.
func (s *Store) AddUpload(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filesPath), 0o755); err != nil {
		return fmt.Errorf("session: creating state dir: %w", err)
	}
	f, err := os.OpenFile(s.filesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("session: opening %s: %w", s.filesPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(fileID + "\n"); err != nil {
		return fmt.Errorf("session: appending upload: %w", err)
	}
	return nil
}

// Uploads returns the pending upload set in insertion order.
func (s *Store) Uploads() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readUploads()
}

func (s *Store) readUploads() ([]string, error) {
	data, err := os.ReadFile(s.filesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) writeThread(id string) error {
	return s.writeFile(s.threadPath, id)
}

func (s *Store) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
