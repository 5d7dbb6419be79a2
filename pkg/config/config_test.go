package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pmirror/pmirror/pkg/config"
	"github.com/pmirror/pmirror/pkg/feed"
	"github.com/pmirror/pmirror/pkg/synchronizer"
	"github.com/stretchr/testify/require"
)

const sample = `
database = "/var/lib/pmirror/registry.db"

[publish]
base_dir = "/srv/pmirror"
http = true

[resolver]
cache_size = 128

[[repository]]
id = "forge"
feed = "https://forge.example.com"
queries = ["stdlib", "apache"]
workers = 8
remove_missing = true

[[repository]]
id = "local"
feed = "/srv/feeds/local"
flow = "directory"
validate_downloads = true
`

func writeConfig(t *testing.T, contents string) string {
	p := filepath.Join(t.TempDir(), "pmirror.toml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := config.Load("", "/data")
		require.NoError(t, err)
		require.Equal(t, "/data/registry.db", cfg.Database)
		require.Equal(t, "/data/content", cfg.ContentDir)
		require.Equal(t, "https", cfg.Resolver.Protocol)
		require.Empty(t, cfg.Repositories)
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), "/data")
		require.NoError(t, err)
		require.Equal(t, ":8080", cfg.Serve.Addr)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := config.Load(writeConfig(t, sample), "/data")
		require.NoError(t, err)
		require.Equal(t, "/var/lib/pmirror/registry.db", cfg.Database)
		require.Equal(t, "/data/content", cfg.ContentDir)
		require.Equal(t, 128, cfg.Resolver.CacheSize)

		targets := cfg.Targets()
		require.Len(t, targets, 2)
		require.True(t, targets[0].Enabled)
		require.True(t, targets[1].Enabled)
		require.Equal(t, "/srv/pmirror", targets[0].BaseDir)

		r, ok := cfg.Repository("forge")
		require.True(t, ok)
		src, err := r.Source()
		require.NoError(t, err)
		require.Equal(t, feed.KindNetworked, src.Kind)
		require.Equal(t, 8, src.Workers)
		require.Equal(t, []string{"stdlib", "apache"}, src.Queries)
		require.True(t, r.SyncOptions().RemoveMissing)
		flow, err := r.SyncFlow()
		require.NoError(t, err)
		require.Equal(t, synchronizer.FlowAuto, flow)

		r, ok = cfg.Repository("local")
		require.True(t, ok)
		src, err = r.Source()
		require.NoError(t, err)
		require.Equal(t, feed.KindLocal, src.Kind)
		require.True(t, r.SyncOptions().ValidateDownloads)
		flow, err = r.SyncFlow()
		require.NoError(t, err)
		require.Equal(t, synchronizer.FlowDirectory, flow)

		_, ok = cfg.Repository("absent")
		require.False(t, ok)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("PMIRROR_DATABASE", "/tmp/override.db")
		t.Setenv("PMIRROR_SERVE_ADDR", "127.0.0.1:9000")
		t.Setenv("PMIRROR_PUBLISH_HTTPS", "false")
		t.Setenv("PMIRROR_RESOLVER_PROTOCOL", "http")

		cfg, err := config.Load(writeConfig(t, sample), "/data")
		require.NoError(t, err)
		require.Equal(t, "/tmp/override.db", cfg.Database)
		require.Equal(t, "127.0.0.1:9000", cfg.Serve.Addr)
		require.False(t, cfg.Publish.HTTPS)
		require.Equal(t, "http", cfg.Resolver.Protocol)
		require.Equal(t, 128, cfg.Resolver.CacheSize)
	})

	t.Run("rejects malformed files", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "database = "), "/data")
		require.ErrorContains(t, err, "parsing config")
	})

	t.Run("rejects duplicate repositories", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "[[repository]]\nid = \"a\"\nfeed = \"/a\"\n[[repository]]\nid = \"a\"\nfeed = \"/b\"\n"), "/data")
		require.ErrorContains(t, err, "configured twice")
	})

	t.Run("rejects unknown flows and feeds", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "[[repository]]\nid = \"a\"\nfeed = \"/a\"\nflow = \"rsync\"\n"), "/data")
		require.ErrorContains(t, err, "unknown flow")

		_, err = config.Load(writeConfig(t, "[[repository]]\nid = \"a\"\nfeed = \"ftp://example.com\"\n"), "/data")
		require.ErrorContains(t, err, "unsupported feed scheme")
	})
}
