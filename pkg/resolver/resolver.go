// Package resolver answers Forge-style release queries from published
// dependency stores.
//
// A query names a module and is scoped either to one repository or to every
// repository a consumer is bound to. Each query opens its own store handles,
// so any number of queries may run concurrently with each other and with a
// publish.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/depgraph"
	"github.com/pmirror/pmirror/pkg/metrics"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
)

var log = logging.Logger("resolver")

// Null is the sentinel for an absent consumer or repository scope.
const Null = "."

// DefaultCacheSize is the number of decoded records kept in memory.
const DefaultCacheSize = 4096

// ErrAuthScope is returned when a query names neither a repository nor a
// consumer.
var ErrAuthScope = errors.New("query must be scoped to a repository or a consumer")

// BindingLookup resolves the repositories a consumer is bound to. It's
// typically implemented by [repositories.API].
type BindingLookup interface {
	RepositoryIDsForConsumer(ctx context.Context, consumerID string) ([]string, error)
}

// Query is a release query.
type Query struct {
	ConsumerID string
	RepoID     string
	// Module is "author/name" or "author-name".
	Module string
	// Version selects one version. When empty the newest version across all
	// searched repositories is returned, or every version with ViewAll.
	Version     string
	RecurseDeps bool
	ViewAll     bool
}

// Result maps "author/name" to the selected version records of that module.
type Result map[string][]depgraph.VersionRecord

// Resolver answers release queries against stores published under BaseDir
// for one protocol.
type Resolver struct {
	bindings BindingLookup
	baseDir  string
	protocol string
	metrics  *metrics.Metrics
	cache    *lru.Cache[cacheKey, cacheEntry]
}

// Option configures a Resolver.
type Option func(*Resolver) error

// WithMetrics records query metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) error {
		r.metrics = m
		return nil
	}
}

// WithCacheSize sets how many decoded records are cached.
func WithCacheSize(size int) Option {
	return func(r *Resolver) error {
		cache, err := lru.New[cacheKey, cacheEntry](size)
		if err != nil {
			return fmt.Errorf("creating record cache: %w", err)
		}
		r.cache = cache
		return nil
	}
}

// New creates a resolver reading stores at {baseDir}/{protocol}/{repo_id}.
func New(bindings BindingLookup, baseDir string, protocol string, opts ...Option) (*Resolver, error) {
	r := &Resolver{bindings: bindings, baseDir: baseDir, protocol: protocol}
	for _, opt := range append([]Option{WithCacheSize(DefaultCacheSize)}, opts...) {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve answers a query. Repositories whose store cannot be opened are
// skipped, so a query against unpublished repositories returns an empty
// result rather than an error.
func (r *Resolver) Resolve(ctx context.Context, q Query) (result Result, err error) {
	start := time.Now()
	defer func() { r.metrics.Resolved(form(q), start, err) }()

	repoIDs, err := r.scope(ctx, q.ConsumerID, q.RepoID)
	if err != nil {
		return nil, err
	}

	stores := r.openStores(ctx, repoIDs)
	defer func() {
		for _, s := range stores {
			if cerr := s.Close(); cerr != nil {
				log.Warnw("closing dependency store", "path", s.Path(), "error", cerr)
			}
		}
	}()

	name := model.NormalizeFullName(q.Module)
	found, err := r.lookup(ctx, stores, name)
	if err != nil {
		return nil, err
	}

	result = Result{}
	selected := selectVersions(found, q.Version, q.ViewAll)
	if len(selected) == 0 {
		return result, nil
	}
	result[name] = selected

	if q.RecurseDeps {
		if err := r.expand(ctx, stores, result, selected); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// expand adds every version of every transitive dependency of records to
// result. Names already in result are never looked up again.
func (r *Resolver) expand(ctx context.Context, stores []*depgraph.Store, result Result, records []depgraph.VersionRecord) error {
	visited := map[string]bool{}
	for name := range result {
		visited[name] = true
	}
	var queue []string
	enqueue := func(records []depgraph.VersionRecord) {
		for _, rec := range records {
			for _, dep := range rec.Dependencies {
				name := model.NormalizeFullName(dep[0])
				if !visited[name] {
					visited[name] = true
					queue = append(queue, name)
				}
			}
		}
	}
	enqueue(records)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := queue[0]
		queue = queue[1:]
		found, err := r.lookup(ctx, stores, name)
		if err != nil {
			return err
		}
		all := selectVersions(found, "", true)
		if len(all) == 0 {
			log.Debugf("dependency %s not found in any searched repository", name)
			continue
		}
		result[name] = all
		enqueue(all)
	}
	return nil
}

func (r *Resolver) scope(ctx context.Context, consumerID, repoID string) ([]string, error) {
	if repoID != "" && repoID != Null {
		return []string{repoID}, nil
	}
	if consumerID == "" || consumerID == Null {
		return nil, ErrAuthScope
	}
	repoIDs, err := r.bindings.RepositoryIDsForConsumer(ctx, consumerID)
	if err != nil {
		return nil, fmt.Errorf("resolving repositories for consumer %s: %w", consumerID, err)
	}
	return repoIDs, nil
}

func (r *Resolver) openStores(ctx context.Context, repoIDs []string) []*depgraph.Store {
	stores := make([]*depgraph.Store, 0, len(repoIDs))
	for _, repoID := range repoIDs {
		s, err := depgraph.Open(ctx, depgraph.StorePath(r.baseDir, r.protocol, repoID))
		if err != nil {
			log.Infow("skipping repository", "repository", repoID, "error", err)
			r.metrics.StoreSkipped()
			continue
		}
		stores = append(stores, s)
	}
	return stores
}

// lookup collects the records of name from every store.
func (r *Resolver) lookup(ctx context.Context, stores []*depgraph.Store, name string) ([]depgraph.VersionRecord, error) {
	var found []depgraph.VersionRecord
	for _, s := range stores {
		records, err := r.get(ctx, s, name)
		if err != nil {
			return nil, err
		}
		found = append(found, records...)
	}
	return found, nil
}

// selectVersions applies version selection to records gathered across
// stores. Duplicate versions keep the first record seen.
func selectVersions(records []depgraph.VersionRecord, version string, all bool) []depgraph.VersionRecord {
	seen := map[string]bool{}
	var out []depgraph.VersionRecord
	for _, rec := range records {
		if seen[rec.Version] || (version != "" && rec.Version != version) {
			continue
		}
		seen[rec.Version] = true
		out = append(out, rec)
	}
	depgraph.SortDescending(out)
	if version == "" && !all && len(out) > 1 {
		out = out[:1]
	}
	return out
}

func form(q Query) string {
	if q.ViewAll {
		return "v3"
	}
	return "legacy"
}
