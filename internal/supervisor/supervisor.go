// Package supervisor owns the live runtime map and dispatches start, stop
// and status to the backend matching each plugin's type.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/backend"
	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/plugin"
	"github.com/gardenos/gardend/internal/registry"
)

// Supervisor resolves plugins through the registry and drives their
// lifecycle through the container and file backends. Built-ins are
// permanently registered as running.
type Supervisor struct {
	reg        *registry.Registry
	containers backend.Backend
	files      backend.Backend
	log        *zap.Logger
	startTime  time.Time

	mu        sync.RWMutex
	entries   map[string]*backend.Entry
	nameLocks map[string]*sync.Mutex
}

// New returns a Supervisor with the built-in plugins pre-registered.
func New(reg *registry.Registry, containers, files backend.Backend, log *zap.Logger) *Supervisor {
	s := &Supervisor{
		reg:        reg,
		containers: containers,
		files:      files,
		log:        log,
		startTime:  time.Now().UTC(),
		entries:    make(map[string]*backend.Entry),
		nameLocks:  make(map[string]*sync.Mutex),
	}
	for _, name := range []string{
		registry.BuiltinFileManager,
		registry.BuiltinDiskManager,
		registry.BuiltinSystemMonitor,
		registry.BuiltinFarmerManager,
	} {
		e := backend.NewEntry(plugin.TypeBuiltIn)
		e.Started = s.startTime
		s.entries[name] = e
	}
	return s
}

// nameLock serializes start/stop for a single plugin name so that
// check-entry-then-act is atomic. Different names proceed concurrently.
func (s *Supervisor) nameLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.nameLocks[name] = l
	}
	return l
}

func (s *Supervisor) entry(name string) *backend.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[name]
}

func (s *Supervisor) putEntry(name string, e *backend.Entry) {
	s.mu.Lock()
	s.entries[name] = e
	s.mu.Unlock()
}

func (s *Supervisor) dropEntry(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// Start launches the named plugin. A second start without an intervening
// stop fails with a conflict; a malformed (invalid-type) row is tolerated
// and logged without creating an entry.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	p, err := s.reg.Get(name)
	if err != nil {
		return err
	}
	l := s.nameLock(name)
	l.Lock()
	defer l.Unlock()
	if s.entry(name) != nil {
		return errdefs.New(errdefs.KindConflict, "plugin %s already running", name)
	}
	switch p.Type {
	case plugin.TypeBuiltIn:
		// Always running; nothing to launch and no entry to create.
		return nil
	case plugin.TypeContainer:
		e := backend.NewEntry(p.Type)
		if err := s.containers.Launch(ctx, p, e); err != nil {
			return err
		}
		s.putEntry(name, e)
		return nil
	case plugin.TypeFile:
		e := backend.NewEntry(p.Type)
		if err := s.files.Launch(ctx, p, e); err != nil {
			return err
		}
		s.putEntry(name, e)
		return nil
	default:
		s.log.Warn("refusing to start plugin with invalid type", zap.String("plugin", name))
		return nil
	}
}

// Stop releases the named plugin's runtime entry. Stopping a plugin that is
// not running is a no-op reported as false, never an error; stopping a
// built-in is rejected. With no entry the backend is still consulted, so a
// process or container left behind by an earlier invocation gets stopped.
func (s *Supervisor) Stop(ctx context.Context, name string) (bool, error) {
	p, err := s.reg.Get(name)
	if err != nil {
		return false, err
	}
	l := s.nameLock(name)
	l.Lock()
	defer l.Unlock()
	e := s.entry(name)
	if e == nil {
		return s.stopDetached(ctx, p)
	}
	if e.Kind == plugin.TypeBuiltIn {
		return false, errdefs.New(errdefs.KindPermissionDenied, "built-in plugin %s cannot be stopped", name)
	}
	s.dropEntry(name)
	switch e.Kind {
	case plugin.TypeContainer:
		e.RequestStop()
		return true, s.containers.Stop(ctx, p, e)
	case plugin.TypeFile:
		return true, s.files.Stop(ctx, p, e)
	default:
		return true, nil
	}
}

// stopDetached stops backend state that survived from an earlier invocation
// (a recorded pid or a live container). Nothing found reads as not running.
func (s *Supervisor) stopDetached(ctx context.Context, p plugin.Plugin) (bool, error) {
	b := s.backendFor(p.Type)
	if b == nil {
		return false, nil
	}
	status, err := b.Status(ctx, p, nil)
	if err != nil {
		return false, err
	}
	if !status.Running {
		return false, nil
	}
	s.log.Info("stopping plugin left by an earlier invocation", zap.String("plugin", p.Name))
	return true, b.Stop(ctx, p, nil)
}

func (s *Supervisor) backendFor(t plugin.Type) backend.Backend {
	switch t {
	case plugin.TypeContainer:
		return s.containers
	case plugin.TypeFile:
		return s.files
	default:
		return nil
	}
}

// Status reports the derived runtime state of the named plugin. An unknown
// name is not found; a known name with no entry is resolved against the
// backend, which still sees processes and containers from earlier
// invocations.
func (s *Supervisor) Status(ctx context.Context, name string) (plugin.Status, error) {
	p, err := s.reg.Get(name)
	if err != nil {
		return plugin.Status{}, err
	}
	e := s.entry(name)
	if e == nil {
		if b := s.backendFor(p.Type); b != nil {
			return b.Status(ctx, p, nil)
		}
		return plugin.Status{}, nil
	}
	switch e.Kind {
	case plugin.TypeBuiltIn:
		started := s.startTime
		return plugin.Status{Running: true, ShouldBeRunning: true, Started: &started}, nil
	case plugin.TypeContainer:
		return s.containers.Status(ctx, p, e)
	case plugin.TypeFile:
		return s.files.Status(ctx, p, e)
	default:
		return plugin.Status{}, nil
	}
}

// Shutdown stops every live non-built-in plugin. Failures are logged and
// the sweep keeps going; the runtime map ends empty of stoppable entries.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name, e := range s.entries {
		if e.Kind != plugin.TypeBuiltIn {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()
	for _, name := range names {
		if _, err := s.Stop(ctx, name); err != nil {
			s.log.Error("shutdown stop failed", zap.String("plugin", name), zap.Error(err))
		}
	}
}
