package resolver

import (
	"context"

	"github.com/pmirror/pmirror/pkg/depgraph"
)

// cacheKey identifies a record in one version of a store. A publish renames a
// new file into place, which changes the file's modification time and so
// retires every entry of the old store.
type cacheKey struct {
	path    string
	modTime int64
	size    int64
	name    string
}

type cacheEntry struct {
	records []depgraph.VersionRecord
}

// get reads the records of name from s, consulting the cache first. Absent
// names are cached too.
func (r *Resolver) get(ctx context.Context, s *depgraph.Store, name string) ([]depgraph.VersionRecord, error) {
	key := cacheKey{path: s.Path(), modTime: s.ModTime().UnixNano(), size: s.Size(), name: name}
	if entry, ok := r.cache.Get(key); ok {
		r.metrics.CacheLookup(true)
		return entry.records, nil
	}
	r.metrics.CacheLookup(false)

	records, _, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, cacheEntry{records: records})
	return records, nil
}
