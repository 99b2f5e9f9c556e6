package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

func openers() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		DriverMemory: func(t *testing.T) Store { return NewMemory() },
		DriverSQLite: func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "state.db"))
			require.NoError(t, err)
			return s
		},
		DriverFile: func(t *testing.T) Store {
			s, err := OpenFile(filepath.Join(t.TempDir(), "nested", "state.yaml"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_Conformance(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 10, 14, 9, 30, 0, 123000000, time.UTC)

	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			_, found, err := s.Get(ctx, "g1", "ABC-1")
			require.NoError(t, err)
			assert.False(t, found, "absent state is not an error")

			first := syncer.SyncState{
				GoalID:     "g1",
				TicketKey:  "ABC-1",
				LastStatus: "In Progress",
				UpdatedAt:  at,
			}
			require.NoError(t, s.Put(ctx, first))

			got, found, err := s.Get(ctx, "g1", "ABC-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "In Progress", got.LastStatus)
			assert.Nil(t, got.LastComment)
			assert.True(t, got.UpdatedAt.Equal(at))

			second := first
			second.LastStatus = "Done"
			second.LastComment = &syncer.CommentMarker{At: at.Add(-time.Hour), ID: "10042"}
			second.UpdatedAt = at.Add(time.Minute)
			require.NoError(t, s.Put(ctx, second))

			got, _, err = s.Get(ctx, "g1", "ABC-1")
			require.NoError(t, err)
			assert.Equal(t, "Done", got.LastStatus)
			require.NotNil(t, got.LastComment)
			assert.Equal(t, "10042", got.LastComment.ID)
			assert.True(t, got.LastComment.At.Equal(at.Add(-time.Hour)))

			// Same ticket under another goal is a separate pair.
			_, found, err = s.Get(ctx, "g2", "ABC-1")
			require.NoError(t, err)
			assert.False(t, found)

			assert.Error(t, s.Put(ctx, syncer.SyncState{GoalID: "g1"}))
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	state := syncer.SyncState{GoalID: "g1", TicketKey: "ABC-1", LastStatus: "Blocked", UpdatedAt: time.Now().UTC()}

	for _, driver := range []string{DriverSQLite, DriverFile} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(dir, driver+".state")

			s, err := New(driver, path)
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, state))
			require.NoError(t, s.Close())

			s, err = New(driver, path)
			require.NoError(t, err)
			defer s.Close()
			got, found, err := s.Get(ctx, "g1", "ABC-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "Blocked", got.LastStatus)
		})
	}
}

func TestNew_Drivers(t *testing.T) {
	s, err := New(DriverMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New("redis", "x")
	assert.ErrorContains(t, err, "unknown state driver")

	_, err = New(DriverSQLite, " ")
	assert.Error(t, err)
	_, err = New(DriverFile, "")
	assert.Error(t, err)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	marker := &syncer.CommentMarker{ID: "1"}
	require.NoError(t, m.Put(ctx, syncer.SyncState{GoalID: "g", TicketKey: "A-1", LastComment: marker}))
	marker.ID = "changed"

	got, _, _ := m.Get(ctx, "g", "A-1")
	assert.Equal(t, "1", got.LastComment.ID)
	got.LastComment.ID = "mutated"

	again, _, _ := m.Get(ctx, "g", "A-1")
	assert.Equal(t, "1", again.LastComment.ID)
	assert.Equal(t, 1, m.Len())
}

func TestSQLiteInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteInMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, syncer.SyncState{GoalID: "g", TicketKey: "A-1", LastStatus: "To Do", UpdatedAt: time.Now()}))
	got, found, err := s.Get(ctx, "g", "A-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "To Do", got.LastStatus)
}

func TestFile_WritesBackupAndPermissions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.yaml")
	f, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, f.Put(ctx, syncer.SyncState{GoalID: "g", TicketKey: "A-1", LastStatus: "To Do"}))
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "no backup before the first overwrite")

	require.NoError(t, f.Put(ctx, syncer.SyncState{GoalID: "g", TicketKey: "A-1", LastStatus: "Done"}))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(bak), "To Do")

	cur, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(cur), "last_status: Done")
	assert.Contains(t, string(cur), "version: 1")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".goalsync-state-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFile_RejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries: [unterminated"), 0o600))

	_, err := OpenFile(path)
	assert.ErrorContains(t, err, "parse state file")
}

func TestFile_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 9\nentries: []\n"), 0o600))

	_, err := OpenFile(path)
	assert.ErrorContains(t, err, "unsupported version")
}
