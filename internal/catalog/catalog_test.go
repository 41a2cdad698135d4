package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/logger"
	"github.com/gardenos/gardend/internal/plugin"
)

const catalogDoc = `plugins:
  - name: indexer
    type: file
    repo: https://builds.example.com
    tag: v1
    source: indexer
    version: 1.2.0
  - name: proxy
    type: container
    source: example/proxy
    version: 0.4.1
`

func TestRefreshReplacesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogDoc))
	}))
	defer srv.Close()

	c := New(srv.URL, logger.NewNop())
	require.NoError(t, c.Refresh(context.Background()))
	assert.Len(t, c.Available(), 2)
	got, ok := c.Get("indexer")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", got.Version)
}

func TestRefreshFailureKeepsPriorCatalog(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(catalogDoc))
	}))
	defer srv.Close()

	c := New(srv.URL, logger.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	fail.Store(true)
	err := c.Refresh(context.Background())
	assert.True(t, errdefs.IsUnavailable(err))
	assert.Len(t, c.Available(), 2)
}

func TestRefreshParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not yaml: ["))
	}))
	defer srv.Close()

	c := New(srv.URL, logger.NewNop())
	err := c.Refresh(context.Background())
	assert.True(t, errdefs.IsUnavailable(err))
	assert.Empty(t, c.Available())
}

func TestUpdatesSkipsMalformedVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`plugins:
  - name: indexer
    version: 1.3.0
  - name: proxy
    version: not-a-version
  - name: cache
    version: 2.0.0
`))
	}))
	defer srv.Close()

	c := New(srv.URL, logger.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	installed := []plugin.Plugin{
		{Name: "indexer", Version: "1.2.0"},
		{Name: "proxy", Version: "0.4.1"},
		{Name: "cache", Version: "garbage"},
		{Name: "unlisted", Version: "1.0.0"},
	}
	updates := c.Updates(installed)
	require.Len(t, updates, 1)
	assert.Equal(t, plugin.Update{Name: "indexer", CurrentVersion: "1.2.0", NewVersion: "1.3.0"}, updates[0])
}

func TestUpdatesCurrentVersionIsNotAnUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plugins:\n  - name: indexer\n    version: 1.2.0\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, logger.NewNop())
	require.NoError(t, c.Refresh(context.Background()))
	assert.Empty(t, c.Updates([]plugin.Plugin{{Name: "indexer", Version: "1.2.0"}}))
}
