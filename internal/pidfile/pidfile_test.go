package pidfile

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, Write(path, 4242))

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	pid, err := Read(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Zero(t, pid)

	corrupt := filepath.Join(dir, "corrupt")
	require.NoError(t, os.WriteFile(corrupt, []byte("not-a-pid"), 0644))
	pid, err = Read(corrupt)
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestLiveTracksProcess(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 60")
	require.NoError(t, cmd.Start())
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, Write(path, cmd.Process.Pid))
	pid, ok := Live(path)
	require.True(t, ok)
	assert.Equal(t, cmd.Process.Pid, pid)

	require.NoError(t, Kill(pid))
	cmd.Wait()
	_, ok = Live(path)
	assert.False(t, ok, "a dead pid reads the same as no record")
}

func TestRemoveToleratesMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, Remove(path))
	require.NoError(t, Write(path, 1))
	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
