package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_Contention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "goalsync.lock")

	first := New(path)
	require.NoError(t, first.TryLock())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(raw)))

	// flock is per open file description, so a second handle in the same
	// process contends like another process would.
	second := New(path)
	err = second.TryLock()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid "+strconv.Itoa(os.Getpid()))

	require.NoError(t, first.Unlock())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestFileLock_Idempotent(t *testing.T) {
	fl := New(filepath.Join(t.TempDir(), "x.lock"))
	require.NoError(t, fl.Unlock())
	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.Unlock())
	require.NoError(t, fl.Unlock())
	assert.NotEmpty(t, fl.Path())
}
