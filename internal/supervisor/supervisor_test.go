package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenos/gardend/internal/backend"
	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/logger"
	"github.com/gardenos/gardend/internal/plugin"
	"github.com/gardenos/gardend/internal/registry"
	"github.com/gardenos/gardend/internal/store"
)

// fakeBackend counts launches and stops; Launch can be slowed down to widen
// concurrency windows.
type fakeBackend struct {
	launchDelay time.Duration
	launchErr   error
	launches    atomic.Int32
	stops       atomic.Int32
	running     atomic.Bool
}

func (f *fakeBackend) Launch(ctx context.Context, p plugin.Plugin, e *backend.Entry) error {
	if f.launchDelay > 0 {
		time.Sleep(f.launchDelay)
	}
	if f.launchErr != nil {
		return f.launchErr
	}
	f.launches.Add(1)
	f.running.Store(true)
	return nil
}

func (f *fakeBackend) Stop(ctx context.Context, p plugin.Plugin, e *backend.Entry) error {
	f.stops.Add(1)
	f.running.Store(false)
	return nil
}

func (f *fakeBackend) Status(ctx context.Context, p plugin.Plugin, e *backend.Entry) (plugin.Status, error) {
	status := plugin.Status{Running: f.running.Load()}
	if e != nil {
		status.ShouldBeRunning = e.ShouldRun()
		started := e.Started
		status.Started = &started
	}
	return status, nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *registry.Registry, *fakeBackend, *fakeBackend) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := registry.New(st, logger.NewNop())
	require.NoError(t, reg.Load())
	containers := &fakeBackend{}
	files := &fakeBackend{}
	return New(reg, containers, files, logger.NewNop()), reg, containers, files
}

func addPlugin(t *testing.T, reg *registry.Registry, name string, typ plugin.Type) {
	t.Helper()
	_, err := reg.Add(plugin.Plugin{Name: name, Label: name, Enabled: true, Type: typ})
	require.NoError(t, err)
}

func TestStartTwiceConflicts(t *testing.T) {
	s, reg, _, files := newTestSupervisor(t)
	addPlugin(t, reg, "indexer", plugin.TypeFile)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "indexer"))
	err := s.Start(ctx, "indexer")
	assert.True(t, errdefs.IsConflict(err))
	assert.Equal(t, int32(1), files.launches.Load())
}

func TestStopWithoutEntryIsFalse(t *testing.T) {
	s, reg, _, _ := newTestSupervisor(t)
	addPlugin(t, reg, "indexer", plugin.TypeFile)

	stopped, err := s.Stop(context.Background(), "indexer")
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestStartStopCycle(t *testing.T) {
	s, reg, containers, _ := newTestSupervisor(t)
	addPlugin(t, reg, "proxy", plugin.TypeContainer)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "proxy"))
	stopped, err := s.Stop(ctx, "proxy")
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, int32(1), containers.stops.Load())

	// entry is gone; a second stop is a no-op
	stopped, err = s.Stop(ctx, "proxy")
	require.NoError(t, err)
	assert.False(t, stopped)

	// and the name can be started again
	require.NoError(t, s.Start(ctx, "proxy"))
}

func TestLaunchFailureLeavesNoEntry(t *testing.T) {
	s, reg, containers, _ := newTestSupervisor(t)
	containers.launchErr = errdefs.New(errdefs.KindUnavailable, "container: pull image: no daemon")
	addPlugin(t, reg, "proxy", plugin.TypeContainer)
	ctx := context.Background()

	err := s.Start(ctx, "proxy")
	assert.True(t, errdefs.IsUnavailable(err))

	// failed launch left no entry, so retry is allowed
	containers.launchErr = nil
	require.NoError(t, s.Start(ctx, "proxy"))
}

func TestBuiltins(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	status, err := s.Status(ctx, registry.BuiltinSystemMonitor)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.True(t, status.ShouldBeRunning)
	require.NotNil(t, status.Started)

	err = s.Start(ctx, registry.BuiltinSystemMonitor)
	assert.True(t, errdefs.IsConflict(err))

	_, err = s.Stop(ctx, registry.BuiltinSystemMonitor)
	assert.True(t, errdefs.IsPermissionDenied(err))
}

func TestUnknownNameIsNotFound(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	_, err := s.Status(ctx, "ghost")
	assert.True(t, errdefs.IsNotFound(err))
	err = s.Start(ctx, "ghost")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = s.Stop(ctx, "ghost")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestKnownNameWithoutEntryIsStopped(t *testing.T) {
	s, reg, _, _ := newTestSupervisor(t)
	addPlugin(t, reg, "indexer", plugin.TypeFile)

	status, err := s.Status(context.Background(), "indexer")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.False(t, status.ShouldBeRunning)
	assert.Nil(t, status.Started)
}

func TestStopFindsDetachedProcess(t *testing.T) {
	s, reg, _, files := newTestSupervisor(t)
	addPlugin(t, reg, "indexer", plugin.TypeFile)
	// the backend still sees a process from an earlier invocation even
	// though this supervisor holds no entry for it
	files.running.Store(true)

	stopped, err := s.Stop(context.Background(), "indexer")
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, int32(1), files.stops.Load())
}

func TestStopFindsDetachedContainer(t *testing.T) {
	s, reg, containers, _ := newTestSupervisor(t)
	addPlugin(t, reg, "proxy", plugin.TypeContainer)
	containers.running.Store(true)

	stopped, err := s.Stop(context.Background(), "proxy")
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, int32(1), containers.stops.Load())
}

func TestStatusReflectsDetachedProcess(t *testing.T) {
	s, reg, _, files := newTestSupervisor(t)
	addPlugin(t, reg, "indexer", plugin.TypeFile)
	files.running.Store(true)

	status, err := s.Status(context.Background(), "indexer")
	require.NoError(t, err)
	assert.True(t, status.Running)
}

func TestInvalidTypeToleratedOnStart(t *testing.T) {
	s, reg, containers, files := newTestSupervisor(t)
	addPlugin(t, reg, "broken", plugin.TypeInvalid)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "broken"))
	assert.Equal(t, int32(0), containers.launches.Load())
	assert.Equal(t, int32(0), files.launches.Load())

	// no entry was created
	stopped, err := s.Stop(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestConcurrentStartsLaunchOnce(t *testing.T) {
	s, reg, _, files := newTestSupervisor(t)
	files.launchDelay = 20 * time.Millisecond
	addPlugin(t, reg, "indexer", plugin.TypeFile)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	var conflicts atomic.Int32
	var successes atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Start(ctx, "indexer")
			switch {
			case err == nil:
				successes.Add(1)
			case errdefs.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
	assert.Equal(t, int32(1), files.launches.Load())
}

func TestShutdownStopsEverything(t *testing.T) {
	s, reg, containers, files := newTestSupervisor(t)
	addPlugin(t, reg, "indexer", plugin.TypeFile)
	addPlugin(t, reg, "proxy", plugin.TypeContainer)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "indexer"))
	require.NoError(t, s.Start(ctx, "proxy"))
	s.Shutdown(ctx)
	assert.Equal(t, int32(1), files.stops.Load())
	assert.Equal(t, int32(1), containers.stops.Load())

	// built-ins survive shutdown
	status, err := s.Status(ctx, registry.BuiltinFileManager)
	require.NoError(t, err)
	assert.True(t, status.Running)
}
