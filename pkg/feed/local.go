package feed

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pmirror/pmirror/pkg/feed/metadata"
	"github.com/spf13/afero"
)

// local reads a feed from a directory. Archives are used in place, so
// retrieving a module only checks that it exists.
type local struct {
	fs     afero.Fs
	root   string
	cancel canceler
}

var _ Downloader = (*local)(nil)

func newLocal(src Source) *local {
	return &local{fs: src.Fs, root: src.Path, cancel: newCanceler()}
}

func (l *local) Fs() afero.Fs {
	return l.fs
}

func (l *local) RetrieveManifest(ctx context.Context, progress Progress) ([]byte, error) {
	return l.readDocument(ctx, progress, metadata.ManifestFilename)
}

// RetrieveMetadata reads the single modules.json of the directory. Queries
// only apply to networked feeds.
func (l *local) RetrieveMetadata(ctx context.Context, progress Progress) ([][]byte, error) {
	doc, err := l.readDocument(ctx, progress, metadata.ForgeFilename)
	if err != nil {
		return nil, err
	}
	return [][]byte{doc}, nil
}

func (l *local) readDocument(ctx context.Context, progress Progress, name string) ([]byte, error) {
	if err := l.check(ctx); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(l.fs, filepath.Join(l.root, name))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrMetadata, name, err)
	}
	if progress != nil {
		progress(Event{Type: EventMetadataRetrieved, Document: name})
	}
	return data, nil
}

func (l *local) RetrieveModule(ctx context.Context, progress Progress, entry metadata.Entry) (string, error) {
	r := &reporter{progress: progress}
	return l.retrieve(ctx, r, entry)
}

func (l *local) retrieve(ctx context.Context, r *reporter, entry metadata.Entry) (string, error) {
	path, err := l.locate(ctx, entry)
	if err != nil {
		r.report(Event{Type: EventModuleFailed, Entry: &entry, Err: err})
		return "", err
	}
	r.report(Event{Type: EventModuleRetrieved, Entry: &entry})
	return path, nil
}

func (l *local) locate(ctx context.Context, entry metadata.Entry) (string, error) {
	if err := l.check(ctx); err != nil {
		return "", err
	}
	path := filepath.Join(l.root, filepath.FromSlash(entry.Path))
	info, err := l.fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("locating %s: %w", entry.Key, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("locating %s: %s is a directory", entry.Key, path)
	}
	return path, nil
}

func (l *local) RetrieveModules(ctx context.Context, progress Progress, entries []metadata.Entry) ([]Result, error) {
	r := &reporter{progress: progress}
	results := make([]Result, len(entries))
	for i, entry := range entries {
		path, err := l.retrieve(ctx, r, entry)
		results[i] = Result{Entry: entry, Path: path, Err: err}
	}
	if err := l.check(ctx); err != nil {
		return results, err
	}
	return results, nil
}

func (l *local) Cancel() {
	l.cancel.cancel()
}

// CleanupModule is a no-op: local archives are never copied.
func (l *local) CleanupModule(metadata.Entry) error {
	return nil
}

func (l *local) check(ctx context.Context) error {
	if l.cancel.canceled() {
		return ErrCanceled
	}
	return ctx.Err()
}
