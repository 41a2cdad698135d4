// Package catalog fetches the remote plugin catalog and computes available
// updates for registered plugins.
package catalog

import (
	"context"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/plugin"
)

// DefaultURL is the published plugin catalog document.
const DefaultURL = "https://plugins.druid.garden/plugins.yaml"

// Client caches the most recently fetched catalog. Refresh replaces the
// cache atomically; a failed fetch leaves the prior catalog untouched.
type Client struct {
	url  string
	http *http.Client
	log  *zap.Logger

	mu        sync.RWMutex
	available map[string]plugin.CatalogPlugin
}

// New returns a Client for the given catalog URL. A non-http URL is read as
// a local file path.
func New(url string, log *zap.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:       url,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
		available: make(map[string]plugin.CatalogPlugin),
	}
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(c.url, "http") {
		return os.ReadFile(c.url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.New(errdefs.KindUnavailable, "unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Refresh fetches and parses the catalog document, replacing the in-memory
// catalog on success only.
func (c *Client) Refresh(ctx context.Context) error {
	body, err := c.fetch(ctx)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "catalog: fetch", err)
	}
	var doc plugin.Catalog
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "catalog: parse", err)
	}
	next := make(map[string]plugin.CatalogPlugin, len(doc.Plugins))
	for _, p := range doc.Plugins {
		next[p.Name] = p
	}
	c.mu.Lock()
	c.available = next
	c.mu.Unlock()
	c.log.Info("plugin catalog refreshed", zap.Int("plugins", len(next)))
	return nil
}

// Available returns the cached catalog entries sorted by name.
func (c *Client) Available() []plugin.CatalogPlugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]plugin.CatalogPlugin, 0, len(c.available))
	for _, p := range c.available {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the catalog entry for name, if present.
func (c *Client) Get(name string) (plugin.CatalogPlugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.available[name]
	return p, ok
}

// Updates reports installed plugins whose catalog counterpart carries a
// newer semantic version. A version that fails to parse on either side
// skips that plugin rather than failing the whole diff.
func (c *Client) Updates(installed []plugin.Plugin) []plugin.Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var updates []plugin.Update
	for _, p := range installed {
		avail, ok := c.available[p.Name]
		if !ok {
			continue
		}
		current, err := semver.NewVersion(p.Version)
		if err != nil {
			c.log.Debug("skipping update check, unparseable installed version",
				zap.String("plugin", p.Name), zap.String("version", p.Version))
			continue
		}
		next, err := semver.NewVersion(avail.Version)
		if err != nil {
			c.log.Debug("skipping update check, unparseable catalog version",
				zap.String("plugin", p.Name), zap.String("version", avail.Version))
			continue
		}
		if next.GreaterThan(current) {
			updates = append(updates, plugin.Update{
				Name:           p.Name,
				CurrentVersion: current.String(),
				NewVersion:     next.String(),
			})
		}
	}
	return updates
}
