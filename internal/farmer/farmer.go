// Package farmer supervises the external farming binary: auto-update from a
// remote manifest, process lifecycle, metrics relay and log-stream proxy.
package farmer

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/pidfile"
	"github.com/gardenos/gardend/internal/store"
)

// Paths are the fixed filesystem locations the supervisor manages.
type Paths struct {
	Bin       string // live binary
	Backup    string // previous binary, kept across one update
	Download  string // temp download target
	RunConfig string // temp run config handed to the binary
	Pid       string // recorded child pid, for cross-invocation stop
}

// DefaultPaths returns the appliance's standard farmer locations.
func DefaultPaths() Paths {
	return Paths{
		Bin:       "/usr/bin/fast_farmer.app",
		Backup:    "/usr/bin/fast_farmer.app.bak",
		Download:  filepath.Join(os.TempDir(), "fast_farmer.app"),
		RunConfig: filepath.Join(os.TempDir(), "fast_farmer_config.yaml"),
		Pid:       filepath.Join(os.TempDir(), "fast_farmer.pid"),
	}
}

// State is the observed run state of the farmer child process.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateExited  State = "exited"
	StateUnknown State = "unknown"
)

// Status is the non-blocking poll result for the farmer process.
type Status struct {
	State    State `json:"state"`
	ExitCode int   `json:"exit_code,omitempty"`
}

// process tracks a spawned farmer child until it exits.
type process struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	waitErr  error
}

// Supervisor owns the farmer binary's full lifecycle. The update mutex is
// independent of the run lock so a long download never blocks stop or
// status.
type Supervisor struct {
	settings    store.SettingsStore
	stats       store.StatsStore
	paths       Paths
	manifestURL string
	downloadURL string
	client      *http.Client
	log         *zap.Logger

	mu   sync.Mutex
	proc *process

	updateMu sync.Mutex
}

// Option tweaks a Supervisor at construction.
type Option func(*Supervisor)

// WithPaths overrides the managed filesystem locations.
func WithPaths(p Paths) Option { return func(s *Supervisor) { s.paths = p } }

// WithManifestURL overrides the update manifest location.
func WithManifestURL(url string) Option { return func(s *Supervisor) { s.manifestURL = url } }

// WithDownloadURL overrides the artifact download base.
func WithDownloadURL(url string) Option { return func(s *Supervisor) { s.downloadURL = url } }

// New returns a Supervisor over the given settings and stats stores.
func New(settings store.SettingsStore, stats store.StatsStore, log *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		settings:    settings,
		stats:       stats,
		paths:       DefaultPaths(),
		manifestURL: DefaultManifestURL,
		downloadURL: DefaultDownloadURL,
		client:      &http.Client{Timeout: 10 * time.Minute},
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start installs the binary if needed, writes the run config and spawns the
// farmer with its stdio suppressed. A second start while running is an
// input error.
func (s *Supervisor) Start(cfg *Config) error {
	s.log.Info("farmer starting")
	if err := s.EnsureInstalled(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return errdefs.New(errdefs.KindInvalidInput, "farmer already started")
	}
	if pid, ok := pidfile.Live(s.paths.Pid); ok {
		return errdefs.New(errdefs.KindInvalidInput, "farmer already started (pid %d)", pid)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, "farmer: encode run config", err)
	}
	if err := os.WriteFile(s.paths.RunConfig, data, 0644); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: write run config", err)
	}
	cmd := exec.Command(s.paths.Bin, "-c", s.paths.RunConfig, "run", "-m", "cli")
	if err := cmd.Start(); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: spawn", err)
	}
	if err := pidfile.Write(s.paths.Pid, cmd.Process.Pid); err != nil {
		s.log.Error("failed to record farmer pid", zap.Error(err))
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.waitErr = err
		}
		close(p.done)
	}()
	s.proc = p
	s.log.Info("farmer started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop terminates the farmer if it is running and removes the temp run
// config. A farmer started by an earlier invocation is found through its
// recorded pid. Stopping an already-stopped farmer succeeds as a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		if pid, ok := pidfile.Live(s.paths.Pid); ok {
			s.log.Info("killing farmer by recorded pid", zap.Int("pid", pid))
			if err := pidfile.Kill(pid); err != nil {
				return errdefs.Wrap(errdefs.KindUnavailable, "farmer: kill recorded pid", err)
			}
		}
		s.removeRunArtifacts()
		return nil
	}
	s.log.Info("farmer stopping")
	s.kill(s.proc)
	s.proc = nil
	s.removeRunArtifacts()
	return nil
}

func (s *Supervisor) removeRunArtifacts() {
	if err := os.Remove(s.paths.RunConfig); err != nil && !os.IsNotExist(err) {
		s.log.Error("failed to remove farmer run config", zap.Error(err))
	}
	if err := pidfile.Remove(s.paths.Pid); err != nil {
		s.log.Error("failed to remove farmer pid file", zap.Error(err))
	}
}

func (s *Supervisor) kill(p *process) {
	select {
	case <-p.done:
		return
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil {
		s.log.Error("failed to kill farmer", zap.Error(err))
	}
	<-p.done
}

// Status polls the child without blocking. With no handle in this process
// the recorded pid decides between running and stopped.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		if _, ok := pidfile.Live(s.paths.Pid); ok {
			return Status{State: StateRunning}
		}
		return Status{State: StateStopped}
	}
	select {
	case <-s.proc.done:
		if s.proc.waitErr != nil {
			s.log.Error("failed to check farmer status", zap.Error(s.proc.waitErr))
			return Status{State: StateUnknown}
		}
		return Status{State: StateExited, ExitCode: s.proc.exitCode}
	default:
		return Status{State: StateRunning}
	}
}

// Running reports whether a farmer child exists, in this process or by
// recorded pid.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return true
	}
	_, ok := pidfile.Live(s.paths.Pid)
	return ok
}

// Shutdown forcibly terminates any live child. Callers must invoke it on
// the way down; nothing relies on implicit teardown ordering.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return
	}
	s.log.Info("killing farmer on shutdown")
	s.kill(s.proc)
	s.proc = nil
	if err := pidfile.Remove(s.paths.Pid); err != nil {
		s.log.Error("failed to remove farmer pid file", zap.Error(err))
	}
}
