package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/plugin"
)

const (
	pluginsFile  = "plugins.json"
	settingsFile = "settings.json"
	statsFile    = "stats.json"
)

// FileStore keeps rows as JSON documents under a data directory.
type FileStore struct {
	rootDir string
	mu      sync.RWMutex
}

// NewFileStore creates the data directory and returns a FileStore over it.
func NewFileStore(rootDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(rootDir, "data"), 0755); err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnavailable, "store: init", err)
	}
	return &FileStore{rootDir: rootDir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.rootDir, "data", name)
}

// readDoc unmarshals the named document into out; a missing file leaves out
// untouched.
func (s *FileStore) readDoc(name string, out any) error {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.Wrap(errdefs.KindUnavailable, "store: read "+name, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "store: parse "+name, err)
	}
	return nil
}

func (s *FileStore) writeDoc(name string, doc any) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "store: encode "+name, err)
	}
	if err := os.WriteFile(s.path(name), b, 0644); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "store: write "+name, err)
	}
	return nil
}

func (s *FileStore) ListPlugins() ([]plugin.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []plugin.Plugin
	if err := s.readDoc(pluginsFile, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *FileStore) GetPlugin(name string) (*plugin.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []plugin.Plugin
	if err := s.readDoc(pluginsFile, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Name == name {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func (s *FileStore) UpsertPlugin(p plugin.Plugin) (plugin.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []plugin.Plugin
	if err := s.readDoc(pluginsFile, &rows); err != nil {
		return plugin.Plugin{}, err
	}
	now := time.Now().UTC()
	p.Updated = now
	replaced := false
	var maxID int64
	for i := range rows {
		if rows[i].ID > maxID {
			maxID = rows[i].ID
		}
		if rows[i].Name == p.Name {
			p.ID = rows[i].ID
			p.Added = rows[i].Added
			rows[i] = p
			replaced = true
		}
	}
	if !replaced {
		p.ID = maxID + 1
		p.Added = now
		rows = append(rows, p)
	}
	if err := s.writeDoc(pluginsFile, rows); err != nil {
		return plugin.Plugin{}, err
	}
	return p, nil
}

func (s *FileStore) DeletePlugin(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []plugin.Plugin
	if err := s.readDoc(pluginsFile, &rows); err != nil {
		return false, err
	}
	kept := rows[:0]
	deleted := false
	for _, row := range rows {
		if row.Name == name {
			deleted = true
			continue
		}
		kept = append(kept, row)
	}
	if !deleted {
		return false, nil
	}
	return true, s.writeDoc(pluginsFile, kept)
}

func (s *FileStore) GetSetting(key string) (*SettingsEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []SettingsEntry
	if err := s.readDoc(settingsFile, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Key == key {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func (s *FileStore) PutSetting(entry SettingsEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []SettingsEntry
	if err := s.readDoc(settingsFile, &entries); err != nil {
		return err
	}
	now := time.Now().UTC()
	entry.Modified = now
	for i := range entries {
		if entries[i].Key == entry.Key {
			entry.LastValue = entries[i].Value
			entry.Created = entries[i].Created
			entries[i] = entry
			return s.writeDoc(settingsFile, entries)
		}
	}
	entry.Created = now
	entries = append(entries, entry)
	return s.writeDoc(settingsFile, entries)
}

func (s *FileStore) SaveStat(stat HarvestStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats []HarvestStat
	if err := s.readDoc(statsFile, &stats); err != nil {
		return err
	}
	stats = append(stats, stat)
	return s.writeDoc(statsFile, stats)
}

func (s *FileStore) HasStat(challengeHash, spHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats []HarvestStat
	if err := s.readDoc(statsFile, &stats); err != nil {
		return false, err
	}
	for _, st := range stats {
		if st.ChallengeHash == challengeHash && st.SPHash == spHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) StatsRange(start, end time.Time) ([]HarvestStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats []HarvestStat
	if err := s.readDoc(statsFile, &stats); err != nil {
		return nil, err
	}
	var out []HarvestStat
	for _, st := range stats {
		if !st.Timestamp.Before(start) && !st.Timestamp.After(end) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *FileStore) PruneStats(olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats []HarvestStat
	if err := s.readDoc(statsFile, &stats); err != nil {
		return err
	}
	kept := stats[:0]
	for _, st := range stats {
		if st.Timestamp.Before(olderThan) {
			continue
		}
		kept = append(kept, st)
	}
	return s.writeDoc(statsFile, kept)
}
