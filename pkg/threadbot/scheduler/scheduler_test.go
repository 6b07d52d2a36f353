package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveries struct {
	mu  sync.Mutex
	got []*Reminder
	ch  chan *Reminder
}

func newDeliveries() *deliveries {
	return &deliveries{ch: make(chan *Reminder, 16)}
}

func (d *deliveries) handle(_ context.Context, r *Reminder) error {
	d.mu.Lock()
	d.got = append(d.got, r)
	d.mu.Unlock()
	d.ch <- r
	return nil
}

func (d *deliveries) wait(t *testing.T, timeout time.Duration) *Reminder {
	t.Helper()
	select {
	case r := <-d.ch:
		return r
	case <-time.After(timeout):
		t.Fatal("reminder did not fire")
		return nil
	}
}

func (d *deliveries) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func startScheduler(t *testing.T, storage Storage, d *deliveries) *Scheduler {
	t.Helper()
	s, err := New(DefaultConfig(), storage, d.handle, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestReminder_Text(t *testing.T) {
	r := &Reminder{Name: "Gift", Body: "Open presents"}
	assert.Equal(t, "Gift\nOpen presents", r.Text())
}

func TestScheduler_PastReminderFiresImmediately(t *testing.T) {
	d := newDeliveries()
	s := startScheduler(t, nil, d)

	require.NoError(t, s.Schedule(&Reminder{
		FireAt:    time.Now().Add(-time.Hour),
		Recipient: "42",
		Name:      "Late",
		Body:      "still delivered",
	}))

	r := d.wait(t, 2*time.Second)
	assert.Equal(t, "42", r.Recipient)
	assert.Equal(t, "Late\nstill delivered", r.Text())
}

func TestScheduler_FutureReminderFiresOnce(t *testing.T) {
	d := newDeliveries()
	s := startScheduler(t, nil, d)

	require.NoError(t, s.Schedule(&Reminder{
		FireAt:    time.Now().Add(100 * time.Millisecond),
		Recipient: "7",
		Name:      "Soon",
	}))
	assert.Len(t, s.List(), 1)

	d.wait(t, 3*time.Second)
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 1, d.count())
	assert.Empty(t, s.List())
}

func TestScheduler_ScheduleBeforeStart(t *testing.T) {
	d := newDeliveries()
	s, err := New(DefaultConfig(), nil, d.handle, nil)
	require.NoError(t, err)

	require.NoError(t, s.Schedule(&Reminder{FireAt: time.Now(), Recipient: "1"}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	d.wait(t, 2*time.Second)
}

func TestScheduler_RemoveCancels(t *testing.T) {
	d := newDeliveries()
	s := startScheduler(t, nil, d)

	r := &Reminder{FireAt: time.Now().Add(300 * time.Millisecond), Recipient: "1"}
	require.NoError(t, s.Schedule(r))
	require.NoError(t, s.Remove(r.ID))

	time.Sleep(600 * time.Millisecond)
	assert.Zero(t, d.count())
	assert.ErrorIs(t, s.Remove(r.ID), ErrReminderNotFound)
}

func TestScheduler_DuplicateID(t *testing.T) {
	s, err := New(DefaultConfig(), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Schedule(&Reminder{ID: "a", FireAt: time.Now().Add(time.Hour)}))
	assert.ErrorIs(t, s.Schedule(&Reminder{ID: "a", FireAt: time.Now().Add(time.Hour)}), ErrReminderExists)
}

func TestScheduler_InvalidTimezone(t *testing.T) {
	_, err := New(Config{Timezone: "Not/AZone"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestScheduler_RecoversPersistedReminders(t *testing.T) {
	storage, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	require.NoError(t, storage.Save(&Reminder{
		ID:        "persisted",
		FireAt:    time.Now().Add(-time.Minute),
		Channel:   "telegram",
		Recipient: "99",
		Name:      "Gift",
		Body:      "Open presents",
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	d := newDeliveries()
	startScheduler(t, storage, d)

	r := d.wait(t, 2*time.Second)
	assert.Equal(t, "persisted", r.ID)
	assert.Equal(t, "Gift\nOpen presents", r.Text())

	require.Eventually(t, func() bool {
		left, err := storage.LoadAll()
		return err == nil && len(left) == 0
	}, 2*time.Second, 20*time.Millisecond)
}
