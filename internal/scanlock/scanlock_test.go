package scanlock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.lock")
	l := New(path, time.Minute, zap.NewNop())

	ok, err := l.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, path)

	other := New(path, time.Minute, zap.NewNop())
	ok, err = other.Acquire()
	require.NoError(t, err)
	assert.False(t, ok, "fresh lock must not be taken twice")

	// releasing a lock we never held leaves the holder's file alone
	require.NoError(t, other.Release())
	assert.FileExists(t, path)

	require.NoError(t, l.Release())
	assert.NoFileExists(t, path)

	ok, err = other.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Release())
}

func TestAcquire_StaleLockReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.lock")
	require.NoError(t, os.WriteFile(path, []byte(`{"pid":1}`), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	l := New(path, 10*time.Minute, zap.NewNop())
	ok, err := l.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "acquired_at")
}

func TestTouch_KeepsLockFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.lock")
	l := New(path, 10*time.Minute, zap.NewNop())
	ok, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	require.NoError(t, l.Touch())

	other := New(path, 10*time.Minute, zap.NewNop())
	ok, err = other.Acquire()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquire_UnwritableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(dir, 0555))

	l := New(filepath.Join(dir, "scan.lock"), time.Minute, zap.NewNop())
	ok, err := l.Acquire()
	assert.False(t, ok)
	assert.True(t, apperrors.Is(err, apperrors.ErrLockWrite))
}
