package farmer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/logger"
)

// newRunFixture wires a supervisor whose "binary" is a shell script, so start
// and stop exercise a real child process.
func newRunFixture(t *testing.T, script string) (*Supervisor, Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := Paths{
		Bin:       filepath.Join(dir, "fast_farmer.app"),
		Backup:    filepath.Join(dir, "fast_farmer.app.bak"),
		Download:  filepath.Join(dir, "fast_farmer.download"),
		RunConfig: filepath.Join(dir, "run_config.yaml"),
		Pid:       filepath.Join(dir, "fast_farmer.pid"),
	}
	require.NoError(t, os.WriteFile(paths.Bin, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	st := newSettings(t)
	s := New(st, st, logger.NewNop(), WithPaths(paths))
	t.Cleanup(s.Shutdown)
	return s, paths
}

func waitForState(t *testing.T, s *Supervisor, want State) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.Status(); st.State == want {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("farmer never reached state %s", want)
	return Status{}
}

func TestStartStopLifecycle(t *testing.T) {
	s, paths := newRunFixture(t, "sleep 60")

	assert.Equal(t, StateStopped, s.Status().State)
	assert.False(t, s.Running())

	require.NoError(t, s.Start(DefaultConfig()))
	assert.True(t, s.Running())
	assert.Equal(t, StateRunning, s.Status().State)

	// the run config was rendered for the child
	_, err := os.Stat(paths.RunConfig)
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.Equal(t, StateStopped, s.Status().State)

	// stop cleaned the run config up
	_, err = os.Stat(paths.RunConfig)
	assert.True(t, os.IsNotExist(err))
}

func TestDoubleStartRejected(t *testing.T) {
	s, _ := newRunFixture(t, "sleep 60")

	require.NoError(t, s.Start(DefaultConfig()))
	err := s.Start(DefaultConfig())
	assert.True(t, errdefs.IsInvalidInput(err))
	require.NoError(t, s.Stop())
}

func TestStopIsIdempotent(t *testing.T) {
	s, _ := newRunFixture(t, "sleep 60")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(DefaultConfig()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestExitedChildReportsExitCode(t *testing.T) {
	s, _ := newRunFixture(t, "exit 7")

	require.NoError(t, s.Start(DefaultConfig()))
	st := waitForState(t, s, StateExited)
	assert.Equal(t, 7, st.ExitCode)
	// the handle sticks around until stop clears it
	assert.True(t, s.Running())
	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestRestartAfterExit(t *testing.T) {
	s, _ := newRunFixture(t, "exit 0")

	require.NoError(t, s.Start(DefaultConfig()))
	waitForState(t, s, StateExited)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(DefaultConfig()))
	require.NoError(t, s.Stop())
}

func TestStopAcrossSupervisors(t *testing.T) {
	s1, paths := newRunFixture(t, "sleep 60")
	require.NoError(t, s1.Start(DefaultConfig()))

	// a second supervisor over the same paths holds no process handle; the
	// recorded pid carries the state across
	st := newSettings(t)
	s2 := New(st, st, logger.NewNop(), WithPaths(paths))
	assert.True(t, s2.Running())
	assert.Equal(t, StateRunning, s2.Status().State)

	err := s2.Start(DefaultConfig())
	assert.True(t, errdefs.IsInvalidInput(err))

	require.NoError(t, s2.Stop())
	assert.Equal(t, StateStopped, s2.Status().State)
	_, statErr := os.Stat(paths.Pid)
	assert.True(t, os.IsNotExist(statErr))

	// the first supervisor observes the kill once the child is reaped
	waitForState(t, s1, StateExited)
}

func TestShutdownKillsChild(t *testing.T) {
	s, _ := newRunFixture(t, "sleep 60")

	require.NoError(t, s.Start(DefaultConfig()))
	s.Shutdown()
	assert.False(t, s.Running())
}
