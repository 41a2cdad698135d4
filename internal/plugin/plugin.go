// Package plugin holds the plugin data model shared by the registry,
// the catalog client and the runtime supervisor.
package plugin

import (
	"strings"
	"time"
)

// Type selects the execution mechanism backing a plugin.
type Type int

const (
	TypeInvalid Type = iota
	TypeBuiltIn
	TypeContainer
	TypeFile
)

func (t Type) String() string {
	switch t {
	case TypeBuiltIn:
		return "builtin"
	case TypeContainer:
		return "container"
	case TypeFile:
		return "file"
	default:
		return "invalid"
	}
}

// MarshalText stores the type as its lowercase name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts any stored spelling; unknown values become Invalid.
func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

// ParseType maps a stored type string to a Type; unknown values are Invalid
// so malformed catalog rows stay loadable.
func ParseType(s string) Type {
	switch strings.ToLower(s) {
	case "builtin":
		return TypeBuiltIn
	case "container", "docker":
		return TypeContainer
	case "file":
		return TypeFile
	default:
		return TypeInvalid
	}
}

// Plugin is a registered plugin definition. Name is the unique identity.
type Plugin struct {
	ID         int64     `json:"id" yaml:"id"`
	Label      string    `json:"label" yaml:"label"`
	Name       string    `json:"name" yaml:"name"`
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	Type       Type      `json:"type" yaml:"type"`
	Repo       string    `json:"repo" yaml:"repo"`
	Tag        string    `json:"tag" yaml:"tag"`
	Source     string    `json:"source" yaml:"source"`
	RunCommand string    `json:"run_command,omitempty" yaml:"run_command,omitempty"`
	Version    string    `json:"version" yaml:"version"`
	Added      time.Time `json:"added" yaml:"added"`
	Updated    time.Time `json:"updated" yaml:"updated"`
}

// Status is the derived runtime view of a plugin; it is never persisted.
type Status struct {
	Running         bool       `json:"running"`
	ShouldBeRunning bool       `json:"should_be_running"`
	Started         *time.Time `json:"started,omitempty"`
}

// Update describes an available upgrade for a registered plugin.
type Update struct {
	Name           string `json:"name"`
	CurrentVersion string `json:"current_version"`
	NewVersion     string `json:"new_version"`
}

// Catalog is the remote plugin catalog document.
type Catalog struct {
	Plugins []CatalogPlugin `yaml:"plugins"`
}

// CatalogPlugin is one published plugin in the catalog.
type CatalogPlugin struct {
	Name         string               `yaml:"name"`
	Type         string               `yaml:"type"`
	Repo         string               `yaml:"repo"`
	Tag          string               `yaml:"tag"`
	Source       string               `yaml:"source"`
	Version      string               `yaml:"version"`
	Added        string               `yaml:"added"`
	Updated      string               `yaml:"updated"`
	PastVersions []CatalogPastVersion `yaml:"past_versions"`
}

// CatalogPastVersion is a superseded release kept in the catalog history.
type CatalogPastVersion struct {
	Type     string `yaml:"type"`
	Repo     string `yaml:"repo"`
	Tag      string `yaml:"tag"`
	Source   string `yaml:"source"`
	Version  string `yaml:"version"`
	Added    string `yaml:"added"`
	Replaced string `yaml:"replaced"`
}
