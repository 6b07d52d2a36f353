// Package scheduler – sqlite_storage.go implements Storage backed by a
// SQLite database, used when reminders must survive restarts.
package scheduler

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const reminderSchema = `
CREATE TABLE IF NOT EXISTS reminders (
	id         TEXT PRIMARY KEY,
	fire_at    TEXT NOT NULL,
	channel    TEXT NOT NULL DEFAULT '',
	recipient  TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders(fire_at);
`

// SQLiteStorage persists reminders in a "reminders" table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		path = DefaultConfig().Storage
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(reminderSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Save persists a reminder (insert or update).
func (s *SQLiteStorage) Save(r *Reminder) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO reminders
			(id, fire_at, channel, recipient, name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.FireAt.UTC().Format(time.RFC3339Nano),
		r.Channel,
		r.Recipient,
		r.Name,
		r.Body,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save reminder %q: %w", r.ID, err)
	}
	return nil
}

// Delete removes a reminder by ID.
func (s *SQLiteStorage) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM reminders WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete reminder %q: %w", id, err)
	}
	return nil
}

// LoadAll reads every persisted reminder ordered by fire time.
func (s *SQLiteStorage) LoadAll() ([]*Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, fire_at, channel, recipient, name, body, created_at
		FROM reminders
		ORDER BY fire_at`)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		var (
			r         Reminder
			fireAt    string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &fireAt, &r.Channel, &r.Recipient, &r.Name, &r.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		if r.FireAt, err = time.Parse(time.RFC3339Nano, fireAt); err != nil {
			return nil, fmt.Errorf("reminder %q: bad fire_at %q: %w", r.ID, fireAt, err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		reminders = append(reminders, &r)
	}
	return reminders, rows.Err()
}
