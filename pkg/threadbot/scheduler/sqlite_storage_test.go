package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_SaveLoadDelete(t *testing.T) {
	storage, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "nested", "reminders.db"))
	require.NoError(t, err)
	defer storage.Close()

	later := time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC)
	sooner := later.Add(-time.Hour)

	require.NoError(t, storage.Save(&Reminder{ID: "b", FireAt: later, Recipient: "1", Name: "Gift", Body: "Open presents"}))
	require.NoError(t, storage.Save(&Reminder{ID: "a", FireAt: sooner, Recipient: "2"}))

	all, err := storage.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.True(t, all[1].FireAt.Equal(later))
	assert.Equal(t, "Open presents", all[1].Body)

	require.NoError(t, storage.Delete("a"))
	all, err = storage.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestSQLiteStorage_SaveReplaces(t *testing.T) {
	storage, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	defer storage.Close()

	at := time.Now().Add(time.Hour)
	require.NoError(t, storage.Save(&Reminder{ID: "x", FireAt: at, Recipient: "1", Name: "old"}))
	require.NoError(t, storage.Save(&Reminder{ID: "x", FireAt: at, Recipient: "1", Name: "new"}))

	all, err := storage.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Name)
}
