// Package cmdutil provides utility functions specifically for the pmirror CLI.
package cmdutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/config"
	"github.com/pmirror/pmirror/pkg/contentstore"
	"github.com/pmirror/pmirror/pkg/depgraph"
	"github.com/pmirror/pmirror/pkg/feed"
	"github.com/pmirror/pmirror/pkg/metrics"
	"github.com/pmirror/pmirror/pkg/registry/modules"
	"github.com/pmirror/pmirror/pkg/registry/repositories"
	repomodel "github.com/pmirror/pmirror/pkg/registry/repositories/model"
	"github.com/pmirror/pmirror/pkg/registry/sqlrepo"
	"github.com/pmirror/pmirror/pkg/resolver"
	"github.com/pmirror/pmirror/pkg/synchronizer"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"
)

// DataDir returns the default data directory, ~/.pmirror.
func DataDir() (string, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("obtaining user home directory: %w", err)
	}
	return filepath.Join(homedir, ".pmirror"), nil
}

// Env is everything a command needs: loaded configuration, an open registry
// and the services built on it.
type Env struct {
	Config       *config.Config
	DB           *sql.DB
	Repo         sqlrepo.Repo
	Modules      modules.API
	Repositories repositories.API
	Metrics      *metrics.Metrics
}

// Open loads configuration, sets the log level and opens the registry
// database, creating it if needed.
func Open(ctx context.Context, configPath string, dataDir string) (*Env, error) {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	if err := logging.SetLogLevel("*", cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("setting log level: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	// sqlite allows one writer; the sync workers and the API share the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqlrepo.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("executing schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	fs := afero.NewOsFs()
	repo := sqlrepo.New(db)
	return &Env{
		Config:       cfg,
		DB:           db,
		Repo:         repo,
		Modules:      modules.API{Repo: repo, Content: contentstore.New(fs, cfg.ContentDir)},
		Repositories: repositories.API{Repo: repo},
		Metrics:      metrics.Default,
	}, nil
}

// Close closes the registry database.
func (e *Env) Close() error {
	return e.DB.Close()
}

// Synchronizer builds a synchronizer for a configured repository, creating
// the repository in the registry on first use.
func (e *Env) Synchronizer(ctx context.Context, repoID string) (*synchronizer.Synchronizer, error) {
	rc, ok := e.Config.Repository(repoID)
	if !ok {
		return nil, fmt.Errorf("repository %s has no feed configured", repoID)
	}
	var opts []repomodel.RepositoryOption
	if rc.DisplayName != "" {
		opts = append(opts, repomodel.WithDisplayName(rc.DisplayName))
	}
	if _, err := e.Repositories.FindOrCreateRepository(ctx, repoID, opts...); err != nil {
		return nil, err
	}

	src, err := rc.Source()
	if err != nil {
		return nil, err
	}
	downloader, err := feed.New(src)
	if err != nil {
		return nil, fmt.Errorf("creating downloader for %s: %w", repoID, err)
	}
	flow, err := rc.SyncFlow()
	if err != nil {
		return nil, err
	}
	return &synchronizer.Synchronizer{
		RepoID:     repoID,
		Downloader: downloader,
		Modules:    e.Modules,
		Reports:    e.Repo,
		Flow:       flow,
		Options:    rc.SyncOptions(),
		Metrics:    e.Metrics,
	}, nil
}

// Publisher builds a publisher over the configured targets.
func (e *Env) Publisher() depgraph.Publisher {
	return depgraph.Publisher{
		Modules:   e.Modules,
		Targets:   e.Config.Targets(),
		URLPrefix: e.Config.Publish.URLPrefix,
		Metrics:   e.Metrics,
	}
}

// Resolver builds a resolver over the configured protocol's published stores.
func (e *Env) Resolver() (*resolver.Resolver, error) {
	opts := []resolver.Option{resolver.WithMetrics(e.Metrics)}
	if e.Config.Resolver.CacheSize > 0 {
		opts = append(opts, resolver.WithCacheSize(e.Config.Resolver.CacheSize))
	}
	return resolver.New(e.Repositories, e.Config.Publish.BaseDir, e.Config.Resolver.Protocol, opts...)
}
