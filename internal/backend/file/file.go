// Package file runs plugins as downloaded standalone executables on the host.
package file

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/backend"
	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/pidfile"
	"github.com/gardenos/gardend/internal/plugin"
)

const (
	// cancelPollInterval bounds how long a stop request can go unnoticed by
	// the supervising task.
	cancelPollInterval = 100 * time.Millisecond
	stopTimeout        = 10 * time.Second
)

// Backend downloads plugin executables under binRoot and supervises them.
type Backend struct {
	binRoot string
	client  *http.Client
	log     *zap.Logger
}

// New returns a Backend rooted at binRoot. Downloads carry a generous
// timeout so large artifacts still pass.
func New(binRoot string, log *zap.Logger) *Backend {
	return &Backend{
		binRoot: binRoot,
		client:  &http.Client{Timeout: 10 * time.Minute},
		log:     log,
	}
}

// DownloadURL builds the artifact URL from repo, tag and source, collapsing
// duplicate path separators without touching the scheme.
func DownloadURL(p plugin.Plugin) string {
	raw := p.Repo + "/" + p.Tag + "/" + p.Source
	scheme := ""
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme, raw = raw[:i+3], raw[i+3:]
	}
	for strings.Contains(raw, "//") {
		raw = strings.ReplaceAll(raw, "//", "/")
	}
	return scheme + raw
}

func (b *Backend) fetch(url, dest string) error {
	resp, err := b.client.Get(url)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "file: fetch executable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errdefs.New(errdefs.KindUnavailable, "file: fetch executable: unexpected status %s", resp.Status)
	}
	out, err := os.Create(dest)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "file: write executable", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "file: write executable", err)
	}
	return os.Chmod(dest, 0755)
}

// Launch makes sure the executable is present (downloading it on first
// start), spawns it with the plugin directory as working directory and runs
// a supervising task that races natural exit against the entry's
// cancellation flag.
func (b *Backend) Launch(ctx context.Context, p plugin.Plugin, entry *backend.Entry) error {
	if pid, ok := pidfile.Live(b.pidPath(p.Name)); ok {
		return errdefs.New(errdefs.KindConflict, "file: %s already running (pid %d)", p.Name, pid)
	}
	workDir := filepath.Join(b.binRoot, p.Name)
	exePath := filepath.Join(workDir, p.Name)
	if _, err := os.Stat(exePath); err != nil {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errdefs.Wrap(errdefs.KindUnavailable, "file: create plugin dir", err)
		}
		url := DownloadURL(p)
		b.log.Info("fetching plugin executable", zap.String("plugin", p.Name), zap.String("url", url))
		if err := b.fetch(url, exePath); err != nil {
			return err
		}
	}

	name := exePath
	if p.RunCommand != "" {
		name = p.RunCommand
	}
	cmd := exec.Command(name)
	cmd.Dir = workDir
	logPath := filepath.Join(workDir, "stdout.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "file: open plugin log", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	b.log.Info("starting plugin process", zap.String("plugin", p.Name), zap.String("command", name))
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return errdefs.Wrap(errdefs.KindUnavailable, "file: start process", err)
	}

	// Record the pid so a later invocation can stop a process this one
	// started.
	if err := pidfile.Write(b.pidPath(p.Name), cmd.Process.Pid); err != nil {
		b.log.Error("failed to record plugin pid", zap.String("plugin", p.Name), zap.Error(err))
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	go b.supervise(p.Name, cmd, entry, exited, logFile)
	return nil
}

// supervise waits for the process to exit on its own or for the cancellation
// flag to flip. A natural exit with any status is logged, not failed.
func (b *Backend) supervise(name string, cmd *exec.Cmd, entry *backend.Entry, exited <-chan error, logFile *os.File) {
	defer logFile.Close()
	defer func() {
		if err := pidfile.Remove(b.pidPath(name)); err != nil {
			b.log.Error("failed to remove plugin pid file", zap.String("plugin", name), zap.Error(err))
		}
	}()
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-exited:
			if err != nil {
				b.log.Error("plugin process exited", zap.String("plugin", name), zap.Error(err))
			} else {
				b.log.Info("plugin process exited", zap.String("plugin", name))
			}
			entry.MarkDone(nil)
			return
		case <-ticker.C:
			if entry.ShouldRun() {
				continue
			}
			if err := cmd.Process.Kill(); err != nil {
				entry.MarkDone(errdefs.Wrap(errdefs.KindUnavailable, "file: kill process", err))
				return
			}
			<-exited
			entry.MarkDone(nil)
			return
		}
	}
}

// Stop flips the cancellation flag and waits for the supervising task to
// wind down. Explicit runtime errors from the task propagate; everything
// else is already logged by the task itself. With no entry (the process was
// started by an earlier invocation) the recorded pid is signalled instead.
func (b *Backend) Stop(ctx context.Context, p plugin.Plugin, entry *backend.Entry) error {
	if entry == nil {
		return b.stopByPid(p.Name)
	}
	entry.RequestStop()
	select {
	case <-entry.Done():
		return entry.Err()
	case <-ctx.Done():
		return errdefs.Wrap(errdefs.KindUnavailable, "file: stop", ctx.Err())
	case <-time.After(stopTimeout):
		return errdefs.New(errdefs.KindUnavailable, "file: stop timed out for %s", p.Name)
	}
}

// stopByPid kills the process recorded in the plugin's pid file, if any.
func (b *Backend) stopByPid(name string) error {
	path := b.pidPath(name)
	pid, ok := pidfile.Live(path)
	if !ok {
		return pidfile.Remove(path)
	}
	b.log.Info("stopping plugin by recorded pid", zap.String("plugin", name), zap.Int("pid", pid))
	if err := pidfile.Kill(pid); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "file: kill recorded pid", err)
	}
	return pidfile.Remove(path)
}

// Status derives the plugin state from the supervising task's completion
// signal, or from the recorded pid when no entry exists in this process.
func (b *Backend) Status(ctx context.Context, p plugin.Plugin, entry *backend.Entry) (plugin.Status, error) {
	if entry == nil {
		if _, ok := pidfile.Live(b.pidPath(p.Name)); !ok {
			return plugin.Status{}, nil
		}
		return plugin.Status{Running: true, ShouldBeRunning: p.Enabled}, nil
	}
	started := entry.Started
	return plugin.Status{
		Running:         !entry.Finished(),
		ShouldBeRunning: entry.ShouldRun(),
		Started:         &started,
	}, nil
}

// WorkDir returns the plugin's working directory under the backend root.
func (b *Backend) WorkDir(name string) string { return filepath.Join(b.binRoot, name) }

func (b *Backend) pidPath(name string) string { return filepath.Join(b.binRoot, name, "pid") }
