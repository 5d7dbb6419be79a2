package depgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/pmirror/pmirror/pkg/metrics"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
)

// DefaultURLPrefix is where published repositories are served from.
const DefaultURLPrefix = "/pulp/puppet"

// ModuleSource is the read side of the module registry a publish works from.
// It's typically implemented by [modules.API].
type ModuleSource interface {
	Modules(ctx context.Context, repoID string) ([]*model.Module, error)
	OpenArchive(ctx context.Context, module *model.Module) (io.ReadCloser, error)
}

// Target is one serving protocol a repository is published for.
type Target struct {
	// Protocol names the directory under BaseDir, e.g. "http" or "https".
	Protocol string
	BaseDir  string
	Enabled  bool
}

// IndexEntry is one module version in the browsable index.
type IndexEntry struct {
	Name    string   `json:"name"`
	Author  string   `json:"author"`
	Version string   `json:"version"`
	TagList []string `json:"tag_list"`
}

// Publisher writes dependency stores and indexes for repositories. One
// publish of a repository must not run concurrently with another.
type Publisher struct {
	Modules ModuleSource
	Targets []Target
	// URLPrefix is prepended to "{repo_id}/{archive path}" in record file
	// fields. Defaults to DefaultURLPrefix.
	URLPrefix string
	Metrics   *metrics.Metrics
}

// ArchivePath is where a module's archive lives inside a published
// repository directory.
func ArchivePath(key model.Key) string {
	return path.Join(key.Initial(), key.Author, key.ArchiveName())
}

// Publish replaces the published state of a repository on every enabled
// target with the repository's current modules.
func (p Publisher) Publish(ctx context.Context, repoID string) error {
	start := time.Now()
	defer p.Metrics.ObservePublish(start)

	modules, err := p.Modules.Modules(ctx, repoID)
	if err != nil {
		return fmt.Errorf("reading modules of %s: %w", repoID, err)
	}
	records := p.Records(repoID, modules)
	index := Index(modules)

	for _, target := range p.Targets {
		if !target.Enabled {
			continue
		}
		err := p.publishTarget(ctx, target, repoID, modules, records, index)
		p.Metrics.Published(target.Protocol, err)
		if err != nil {
			return fmt.Errorf("publishing %s over %s: %w", repoID, target.Protocol, err)
		}
		log.Infof("published %s over %s: %d modules, %d versions", repoID, target.Protocol, len(records), len(modules))
	}
	return nil
}

// Records groups modules by "author/name" into version records.
func (p Publisher) Records(repoID string, modules []*model.Module) map[string][]VersionRecord {
	prefix := p.URLPrefix
	if prefix == "" {
		prefix = DefaultURLPrefix
	}
	records := map[string][]VersionRecord{}
	for _, m := range modules {
		deps := make([][2]string, 0, len(m.Dependencies()))
		for _, d := range m.Dependencies() {
			deps = append(deps, [2]string{d.Name, d.VersionRequirement})
		}
		records[m.FullName()] = append(records[m.FullName()], VersionRecord{
			Version:      m.Version(),
			File:         path.Join(prefix, repoID, ArchivePath(m.Key())),
			FileMD5:      m.Checksum(),
			Dependencies: deps,
		})
	}
	for _, versions := range records {
		SortDescending(versions)
	}
	return records
}

// Index builds the browsable index document entries.
func Index(modules []*model.Module) []IndexEntry {
	index := make([]IndexEntry, 0, len(modules))
	for _, m := range modules {
		tags := m.Tags()
		if tags == nil {
			tags = []string{}
		}
		index = append(index, IndexEntry{Name: m.Name(), Author: m.Author(), Version: m.Version(), TagList: tags})
	}
	sort.Slice(index, func(i, j int) bool {
		if index[i].Author != index[j].Author {
			return index[i].Author < index[j].Author
		}
		if index[i].Name != index[j].Name {
			return index[i].Name < index[j].Name
		}
		return CompareVersions(index[i].Version, index[j].Version) < 0
	})
	return index
}

func (p Publisher) publishTarget(ctx context.Context, target Target, repoID string, modules []*model.Module, records map[string][]VersionRecord, index []IndexEntry) error {
	dir := RepoDir(target.BaseDir, target.Protocol, repoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	keep := map[string]bool{}
	for _, m := range modules {
		rel := filepath.FromSlash(ArchivePath(m.Key()))
		keep[rel] = true
		if err := p.placeArchive(ctx, m, filepath.Join(dir, rel)); err != nil {
			return err
		}
	}

	// The store goes last so readers never see records for archives that are
	// not yet in place.
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, IndexFilename), data); err != nil {
		return err
	}
	if err := writeStore(ctx, filepath.Join(dir, StoreFilename), records); err != nil {
		return err
	}
	return pruneArchives(dir, keep)
}

// placeArchive copies a module's archive into the published directory.
// Archives are immutable per key, so one already in place is kept.
func (p Publisher) placeArchive(ctx context.Context, m *model.Module, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	rc, err := p.Modules.OpenArchive(ctx, m)
	if err != nil {
		return fmt.Errorf("opening archive of %s: %w", m.Key(), err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".archive-*")
	if err != nil {
		return fmt.Errorf("creating temporary archive: %w", err)
	}
	_, err = io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publishing archive of %s: %w", m.Key(), err)
	}
	return nil
}

// pruneArchives removes archives of modules no longer in the repository.
func pruneArchives(dir string, keep map[string]bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".gz" {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if keep[rel] {
			return nil
		}
		log.Debugf("removing unpublished archive %s", p)
		return os.Remove(p)
	})
}

func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", dest, err)
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

// Unpublish removes the published state of a repository from every target,
// enabled or not.
func (p Publisher) Unpublish(repoID string) error {
	var errs []error
	for _, target := range p.Targets {
		dir := RepoDir(target.BaseDir, target.Protocol, repoID)
		if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}
