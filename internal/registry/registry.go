// Package registry manages persisted plugin definitions plus the fixed set
// of built-ins.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/plugin"
	"github.com/gardenos/gardend/internal/store"
	"github.com/gardenos/gardend/internal/version"
)

// Built-in plugin names. These rows always exist, stay enabled and cannot
// be removed.
const (
	BuiltinFileManager   = "file_manager"
	BuiltinDiskManager   = "disk_manager"
	BuiltinSystemMonitor = "system_monitor"
	BuiltinFarmerManager = "farmer_manager"
)

var builtinLabels = map[string]string{
	BuiltinFileManager:   "File Manager",
	BuiltinDiskManager:   "Disk Manager",
	BuiltinSystemMonitor: "System Monitor",
	BuiltinFarmerManager: "Fast Farmer",
}

// Registry is the authoritative view of registered plugins.
type Registry struct {
	store store.PluginStore
	log   *zap.Logger

	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
}

// New returns an empty registry over the given store. Call Load before use.
func New(st store.PluginStore, log *zap.Logger) *Registry {
	return &Registry{store: st, log: log, plugins: make(map[string]plugin.Plugin)}
}

// Load merges persisted rows with the built-in definitions. Built-ins win a
// name collision so a stray row can never shadow them.
func (r *Registry) Load() error {
	rows, err := r.store.ListPlugins()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]plugin.Plugin, len(rows)+len(builtinLabels))
	for _, row := range rows {
		r.plugins[row.Name] = row
	}
	now := time.Now().UTC()
	for name, label := range builtinLabels {
		r.plugins[name] = plugin.Plugin{
			Label:   label,
			Name:    name,
			Enabled: true,
			Type:    plugin.TypeBuiltIn,
			Repo:    "https://github.com/gardenos/gardend",
			Version: version.String(),
			Added:   now,
			Updated: now,
		}
	}
	r.log.Info("plugin registry loaded",
		zap.Int("persisted", len(rows)),
		zap.Int("builtin", len(builtinLabels)))
	return nil
}

// IsBuiltIn reports whether name belongs to the fixed built-in set.
func IsBuiltIn(name string) bool {
	_, ok := builtinLabels[name]
	return ok
}

// List returns all registered plugins sorted by name.
func (r *Registry) List() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugin.Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (plugin.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return plugin.Plugin{}, errdefs.New(errdefs.KindNotFound, "plugin %s does not exist", name)
	}
	return p, nil
}

// Add persists and registers a new plugin. The name must be unused,
// built-ins included.
func (r *Registry) Add(p plugin.Plugin) (plugin.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name]; exists {
		return plugin.Plugin{}, errdefs.New(errdefs.KindConflict, "plugin %s already exists", p.Name)
	}
	stored, err := r.store.UpsertPlugin(p)
	if err != nil {
		return plugin.Plugin{}, err
	}
	r.plugins[stored.Name] = stored
	return stored, nil
}

// Update persists changes to an already-registered plugin.
func (r *Registry) Update(p plugin.Plugin) (plugin.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name]; !exists {
		return plugin.Plugin{}, errdefs.New(errdefs.KindNotFound, "plugin %s does not exist", p.Name)
	}
	stored, err := r.store.UpsertPlugin(p)
	if err != nil {
		return plugin.Plugin{}, err
	}
	r.plugins[stored.Name] = stored
	return stored, nil
}

// Remove deletes the persisted row and unregisters the plugin. Built-ins
// cannot be removed. The caller is responsible for stopping the plugin
// first; removal does not check the runtime.
func (r *Registry) Remove(name string) (bool, error) {
	if IsBuiltIn(name) {
		return false, errdefs.New(errdefs.KindPermissionDenied, "built-in plugin %s cannot be removed", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
	return r.store.DeletePlugin(name)
}
