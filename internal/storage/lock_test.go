package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/forge/internal/types"
)

func TestPassLock(t *testing.T) {
	lockPath := PassLockPath(filepath.Join(t.TempDir(), "forge.db"))

	require.NoError(t, AcquirePassLock(lockPath, "pass-1"))
	err := AcquirePassLock(lockPath, "pass-2")
	assert.ErrorIs(t, err, types.ErrPassInProgress)
	assert.ErrorContains(t, err, "pass-1")

	require.NoError(t, ReleasePassLock(lockPath))
	require.NoError(t, AcquirePassLock(lockPath, "pass-3"))
	require.NoError(t, ReleasePassLock(lockPath))
	assert.NoError(t, ReleasePassLock(lockPath), "releasing twice is fine")
}

func TestPassLockTakesOverStaleLock(t *testing.T) {
	lockPath := PassLockPath(filepath.Join(t.TempDir(), "forge.db"))
	hostname, err := os.Hostname()
	require.NoError(t, err)

	data, err := json.Marshal(PassLock{Holder: "forge", PID: -1, Hostname: hostname, StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, data, 0o644))

	require.NoError(t, AcquirePassLock(lockPath, "pass-1"))
	data, err = os.ReadFile(lockPath)
	require.NoError(t, err)
	var held PassLock
	require.NoError(t, json.Unmarshal(data, &held))
	assert.Equal(t, os.Getpid(), held.PID)
	assert.Equal(t, "pass-1", held.PassID)
}

func TestPassLockTakesOverGarbage(t *testing.T) {
	lockPath := PassLockPath(filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, os.WriteFile(lockPath, []byte("not json"), 0o644))
	assert.NoError(t, AcquirePassLock(lockPath, "pass-1"))
}
