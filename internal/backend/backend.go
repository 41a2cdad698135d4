// Package backend defines the execution backend contract and the runtime
// entry shared by the container and file backends.
package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gardenos/gardend/internal/plugin"
)

// Backend is implemented by the container and file execution mechanisms.
type Backend interface {
	// Launch starts the plugin's resource and wires it into entry.
	Launch(ctx context.Context, p plugin.Plugin, entry *Entry) error
	// Stop releases the plugin's resource. Best effort: it keeps going past
	// individual release failures and reports the first one.
	Stop(ctx context.Context, p plugin.Plugin, entry *Entry) error
	// Status reports the live state of the plugin's resource.
	Status(ctx context.Context, p plugin.Plugin, entry *Entry) (plugin.Status, error)
}

// Entry is the live runtime record for a started plugin. It exists only
// between start and stop; at most one per plugin name.
type Entry struct {
	Kind    plugin.Type
	Started time.Time
	// Handle is the backend resource identifier (container name for the
	// container backend, empty otherwise).
	Handle string

	shouldRun atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
	runErr    error
}

// NewEntry returns an entry with run intent set and a start timestamp of now.
func NewEntry(kind plugin.Type) *Entry {
	e := &Entry{
		Kind:    kind,
		Started: time.Now().UTC(),
		done:    make(chan struct{}),
	}
	e.shouldRun.Store(true)
	return e
}

// RequestStop flips the cooperative cancellation flag.
func (e *Entry) RequestStop() { e.shouldRun.Store(false) }

// ShouldRun reports the current run intent.
func (e *Entry) ShouldRun() bool { return e.shouldRun.Load() }

// MarkDone records the supervising task's outcome and signals completion.
// Safe to call more than once; the first outcome wins.
func (e *Entry) MarkDone(err error) {
	e.doneOnce.Do(func() {
		e.runErr = err
		close(e.done)
	})
}

// Done is closed when the supervising task has finished.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Finished reports whether the supervising task has completed.
func (e *Entry) Finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Err returns the supervising task's recorded outcome. Only meaningful once
// Finished reports true.
func (e *Entry) Err() error { return e.runErr }
