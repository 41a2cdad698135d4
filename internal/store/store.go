// Package store defines the narrow persistence surface the orchestration
// engine reads and writes, plus a JSON file-backed implementation.
package store

import (
	"time"

	"github.com/gardenos/gardend/internal/plugin"
)

// PluginStore persists plugin definitions keyed by unique name.
type PluginStore interface {
	ListPlugins() ([]plugin.Plugin, error)
	GetPlugin(name string) (*plugin.Plugin, error)
	UpsertPlugin(p plugin.Plugin) (plugin.Plugin, error)
	DeletePlugin(name string) (bool, error)
}

// SettingsEntry is one versioned key/value settings row.
type SettingsEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	LastValue string    `json:"last_value"`
	Category  string    `json:"category"`
	System    bool      `json:"system"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
}

// SettingsStore persists opaque settings rows. A missing key reads as nil
// without error.
type SettingsStore interface {
	GetSetting(key string) (*SettingsEntry, error)
	PutSetting(entry SettingsEntry) error
}

// HarvestStat is one harvest sample reported by the farmer, identified by
// its (challenge_hash, sp_hash) pair.
type HarvestStat struct {
	ChallengeHash string    `json:"challenge_hash"`
	SPHash        string    `json:"sp_hash"`
	PassedFilter  int       `json:"passed_filter"`
	ProofsFound   int       `json:"proofs_found"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatsStore persists farmer harvest history.
type StatsStore interface {
	SaveStat(stat HarvestStat) error
	HasStat(challengeHash, spHash string) (bool, error)
	StatsRange(start, end time.Time) ([]HarvestStat, error)
	PruneStats(olderThan time.Time) error
}

// Store is the full persistence surface the engine needs.
type Store interface {
	PluginStore
	SettingsStore
	StatsStore
}
