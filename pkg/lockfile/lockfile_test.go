package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, lock)

	lockPath := filepath.Join(dir, LockFileName)
	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)

	var info lockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, int64(os.Getpid()), info.PID)
	assert.NotEmpty(t, info.Hostname)
	assert.NotEmpty(t, info.Nonce)

	lock.Release()
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock file should be removed on release")

	// Releasing twice is a no-op.
	lock.Release()
}

func TestAcquireFailsWhenLockActive(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(context.Background(), dir)
	require.Error(t, err)

	var active *ErrLockActive
	require.True(t, errors.As(err, &active), "expected ErrLockActive, got %v", err)
	assert.Equal(t, int64(os.Getpid()), active.PID)
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	// Plant a lock whose last update is far beyond the stale timeout.
	stale := lockInfo{
		PID:        99999,
		Hostname:   "ghost-host",
		LastUpdate: time.Now().UTC().Add(-10 * staleTimeout),
		Nonce:      "dead",
	}
	data, err := json.MarshalIndent(stale, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, data, 0644))

	lock, err := Acquire(context.Background(), dir)
	require.NoError(t, err, "stale lock should be taken over")
	defer lock.Release()

	got, err := readInfo(lockPath)
	require.NoError(t, err)
	assert.Equal(t, int64(os.Getpid()), got.PID)
}

func TestAcquireTakesOverCorruptLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)
	require.NoError(t, os.WriteFile(lockPath, []byte("{not json"), 0644))

	lock, err := Acquire(context.Background(), dir)
	require.NoError(t, err, "corrupt lock should be treated as stale")
	defer lock.Release()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Acquire(ctx, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}
