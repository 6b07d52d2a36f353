// Package scheduler implements one-shot reminders for threadbot.
// Uses robfig/cron as the timer loop, with optional SQLite persistence so
// reminders can survive restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Errors.
var (
	ErrReminderExists   = errors.New("scheduler: reminder already exists")
	ErrReminderNotFound = errors.New("scheduler: reminder not found")
)

// Config configures the scheduler.
type Config struct {
	// Timezone is the IANA zone reminder times are interpreted in.
	// Empty means the local zone.
	Timezone string `yaml:"timezone"`

	// Persist stores reminders in SQLite so they survive restarts.
	Persist bool `yaml:"persist"`

	// Storage is the SQLite database path used when Persist is set.
	Storage string `yaml:"storage"`

	// JobTimeout bounds a single reminder delivery.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// DefaultConfig returns in-memory reminders in the local zone.
func DefaultConfig() Config {
	return Config{
		Storage:    "data/reminders.db",
		JobTimeout: 30 * time.Second,
	}
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Reminder is a one-shot message delivered to a recipient at FireAt.
type Reminder struct {
	// ID is the unique reminder identifier.
	ID string `json:"id"`

	// FireAt is when the reminder is delivered.
	FireAt time.Time `json:"fire_at"`

	// Channel is the channel to deliver through (e.g. "telegram").
	Channel string `json:"channel"`

	// Recipient is the chat the reminder is sent to.
	Recipient string `json:"recipient"`

	// Name is the reminder title.
	Name string `json:"name"`

	// Body is the reminder text.
	Body string `json:"body"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Text is the message delivered when the reminder fires.
func (r *Reminder) Text() string {
	return r.Name + "\n" + r.Body
}

// Handler delivers a fired reminder.
type Handler func(ctx context.Context, r *Reminder) error

// Storage persists reminders.
type Storage interface {
	Save(r *Reminder) error
	Delete(id string) error
	LoadAll() ([]*Reminder, error)
}

// Scheduler holds the pending reminders. Each fires exactly once and is then
// discarded.
type Scheduler struct {
	reminders map[string]*Reminder

	// cron is the timer loop; nil until Start.
	cron *cron.Cron

	// entryIDs maps reminder IDs to their cron entries for removal.
	entryIDs map[string]cron.EntryID

	storage    Storage
	handler    Handler
	location   *time.Location
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. storage may be nil for in-memory reminders.
func New(cfg Config, storage Storage, handler Handler, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().JobTimeout
	}
	return &Scheduler{
		reminders:  make(map[string]*Reminder),
		entryIDs:   make(map[string]cron.EntryID),
		storage:    storage,
		handler:    handler,
		location:   loc,
		jobTimeout: timeout,
		logger:     logger.With("component", "scheduler"),
	}, nil
}

// Location is the zone reminder times are interpreted in.
func (s *Scheduler) Location() *time.Location { return s.location }

// Schedule registers a reminder. A reminder whose FireAt is already in the
// past fires on the next tick.
func (s *Scheduler) Schedule(r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.reminders[r.ID]; exists {
		return fmt.Errorf("%w: %q", ErrReminderExists, r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	s.reminders[r.ID] = r
	if s.cron != nil {
		s.register(r)
	}

	if s.storage != nil {
		if err := s.storage.Save(r); err != nil {
			s.logger.Error("failed to persist reminder", "id", r.ID, "error", err)
		}
	}

	s.logger.Info("reminder scheduled",
		"id", r.ID,
		"fires_at", r.FireAt.Format(time.RFC3339),
		"fires_in", time.Until(r.FireAt).Round(time.Second).String(),
		"recipient", r.Recipient,
	)
	return nil
}

// Remove cancels a pending reminder.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reminders[id]; !ok {
		return fmt.Errorf("%w: %q", ErrReminderNotFound, id)
	}
	s.discard(id)
	s.logger.Info("reminder removed", "id", id)
	return nil
}

// List returns the pending reminders ordered by fire time.
func (s *Scheduler) List() []*Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FireAt.Before(result[j].FireAt) })
	return result
}

// Get returns a pending reminder by ID.
func (s *Scheduler) Get(id string) (*Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	return r, ok
}

// Start loads persisted reminders and starts the timer loop. Persisted
// reminders that came due while the process was down fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	if s.storage != nil {
		stored, err := s.storage.LoadAll()
		if err != nil {
			s.logger.Error("failed to load reminders", "error", err)
		} else {
			for _, r := range stored {
				if _, exists := s.reminders[r.ID]; !exists {
					s.reminders[r.ID] = r
				}
			}
			s.logger.Info("reminders loaded from storage", "count", len(stored))
		}
	}

	for _, r := range s.reminders {
		s.register(r)
	}
	s.cron.Start()

	s.logger.Info("scheduler started", "pending", len(s.reminders), "timezone", s.location.String())
	return nil
}

// Stop halts the timer loop and waits for deliveries in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// ---------- Internal ----------

// register adds a cron entry for r (caller must hold mu).
func (s *Scheduler) register(r *Reminder) {
	id := r.ID
	entryID := s.cron.Schedule(&onceSchedule{at: r.FireAt}, cron.FuncJob(func() {
		s.fire(id)
	}))
	s.entryIDs[id] = entryID
}

// discard drops a reminder everywhere (caller must hold mu).
func (s *Scheduler) discard(id string) {
	if entryID, ok := s.entryIDs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, id)
	}
	delete(s.reminders, id)
	if s.storage != nil {
		if err := s.storage.Delete(id); err != nil {
			s.logger.Error("failed to remove reminder from storage", "id", id, "error", err)
		}
	}
}

// fire delivers a reminder once. The reminder is discarded before delivery so
// a second trigger finds nothing to do.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	r, ok := s.reminders[id]
	if ok {
		s.discard(id)
	}
	ctx := s.ctx
	s.mu.Unlock()

	if !ok {
		return
	}
	if s.handler == nil {
		s.logger.Warn("reminder fired without a handler", "id", id)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	if err := s.handler(ctx, r); err != nil {
		s.logger.Error("reminder delivery failed", "id", id, "recipient", r.Recipient, "error", err)
		return
	}
	s.logger.Info("reminder delivered",
		"id", id,
		"recipient", r.Recipient,
		"late_by", start.Sub(r.FireAt).Round(time.Millisecond).String(),
	)
}

// onceSchedule is a cron.Schedule that yields its instant once and then the
// zero time, which cron treats as "never again".
type onceSchedule struct {
	at   time.Time
	used bool
}

func (o *onceSchedule) Next(time.Time) time.Time {
	if o.used {
		return time.Time{}
	}
	o.used = true
	return o.at
}

// cronLogger routes robfig/cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
