// Package config loads pmirror settings from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"github.com/pmirror/pmirror/pkg/depgraph"
	"github.com/pmirror/pmirror/pkg/feed"
	"github.com/pmirror/pmirror/pkg/synchronizer"
)

// EnvPrefix prefixes every environment override, e.g. PMIRROR_DATABASE or
// PMIRROR_SERVE_ADDR.
const EnvPrefix = "PMIRROR"

// Config holds all application configuration.
type Config struct {
	// Database is the registry sqlite file.
	Database string `toml:"database" split_words:"true"`
	// ContentDir is the root of the content store.
	ContentDir string `toml:"content_dir" split_words:"true"`

	Publish  PublishConfig  `toml:"publish" split_words:"true"`
	Serve    ServeConfig    `toml:"serve" split_words:"true"`
	Resolver ResolverConfig `toml:"resolver" split_words:"true"`
	Logging  LogConfig      `toml:"logging" split_words:"true"`

	Repositories []RepositoryConfig `toml:"repository" ignored:"true"`
}

// PublishConfig holds where repositories are published to.
type PublishConfig struct {
	BaseDir   string `toml:"base_dir" split_words:"true"`
	HTTP      bool   `toml:"http" split_words:"true"`
	HTTPS     bool   `toml:"https" split_words:"true"`
	URLPrefix string `toml:"url_prefix" split_words:"true"`
}

// ServeConfig holds HTTP server configuration.
type ServeConfig struct {
	Addr string `toml:"addr" split_words:"true"`
}

// ResolverConfig holds release resolver configuration.
type ResolverConfig struct {
	// Protocol selects which published target queries are answered from.
	Protocol  string `toml:"protocol" split_words:"true"`
	CacheSize int    `toml:"cache_size" split_words:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level" split_words:"true"`
}

// RepositoryConfig holds the feed settings of one repository.
type RepositoryConfig struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	// Feed is a directory, a file:// URL or an http(s):// forge URL.
	Feed              string   `toml:"feed"`
	Flow              string   `toml:"flow"`
	Queries           []string `toml:"queries"`
	Workers           int      `toml:"workers"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	RemoveMissing     bool     `toml:"remove_missing"`
	ValidateDownloads bool     `toml:"validate_downloads"`
}

// Default returns default configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		Database:   filepath.Join(dataDir, "registry.db"),
		ContentDir: filepath.Join(dataDir, "content"),
		Publish: PublishConfig{
			BaseDir:   filepath.Join(dataDir, "publish"),
			HTTP:      false,
			HTTPS:     true,
			URLPrefix: depgraph.DefaultURLPrefix,
		},
		Serve: ServeConfig{
			Addr: ":8080",
		},
		Resolver: ResolverConfig{
			Protocol: "https",
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides. A missing file is not an error when path is empty or the file
// was never created.
func Load(path string, dataDir string) (*Config, error) {
	cfg := Default(dataDir)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that repository ids are unique and that every feed and
// flow parses.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, r := range c.Repositories {
		if r.ID == "" {
			return fmt.Errorf("repository %d: id cannot be empty", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("repository %s is configured twice", r.ID)
		}
		seen[r.ID] = true
		if _, err := r.Source(); err != nil {
			return fmt.Errorf("repository %s: %w", r.ID, err)
		}
		if _, err := r.SyncFlow(); err != nil {
			return fmt.Errorf("repository %s: %w", r.ID, err)
		}
	}
	return nil
}

// Repository returns the settings of the repository with the given id.
func (c *Config) Repository(id string) (RepositoryConfig, bool) {
	for _, r := range c.Repositories {
		if r.ID == id {
			return r, true
		}
	}
	return RepositoryConfig{}, false
}

// Targets lists the publish targets, enabled or not.
func (c *Config) Targets() []depgraph.Target {
	return []depgraph.Target{
		{Protocol: "http", BaseDir: c.Publish.BaseDir, Enabled: c.Publish.HTTP},
		{Protocol: "https", BaseDir: c.Publish.BaseDir, Enabled: c.Publish.HTTPS},
	}
}

// Source builds the feed source of the repository.
func (r RepositoryConfig) Source() (feed.Source, error) {
	src, err := feed.ParseSource(r.Feed)
	if err != nil {
		return feed.Source{}, err
	}
	src.Queries = r.Queries
	src.RequestsPerSecond = r.RequestsPerSecond
	if r.Workers > 0 {
		src.Workers = r.Workers
	}
	return src, nil
}

// SyncFlow returns the metadata flow, defaulting to trying the directory
// manifest before the forge document.
func (r RepositoryConfig) SyncFlow() (synchronizer.Flow, error) {
	switch flow := synchronizer.Flow(r.Flow); flow {
	case "":
		return synchronizer.FlowAuto, nil
	case synchronizer.FlowAuto, synchronizer.FlowDirectory, synchronizer.FlowForge:
		return flow, nil
	default:
		return "", fmt.Errorf("unknown flow %q", r.Flow)
	}
}

// SyncOptions returns the synchronizer options of the repository.
func (r RepositoryConfig) SyncOptions() synchronizer.Options {
	return synchronizer.Options{
		RemoveMissing:     r.RemoveMissing,
		ValidateDownloads: r.ValidateDownloads,
	}
}
