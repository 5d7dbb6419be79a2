package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/archive"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/spf13/afero"
)

var log = logging.Logger("registry/modules")

// ErrChecksumMismatch is returned when an archive does not match the checksum
// already recorded for its module.
var ErrChecksumMismatch = errors.New("archive checksum does not match recorded checksum")

// ContentStore stores module archives by content address. It's typically
// implemented by [contentstore.Store].
type ContentStore interface {
	Put(ctx context.Context, r io.Reader) (locator cid.Cid, checksum string, err error)
	Get(ctx context.Context, locator cid.Cid) (io.ReadCloser, error)
	Verify(ctx context.Context, locator cid.Cid, checksum string) (bool, error)
}

// API is the module registry: the authoritative set of locally stored modules.
type API struct {
	Repo    Repo
	Content ContentStore
}

// Archive is a module archive waiting to be imported.
type Archive struct {
	// Fs is the filesystem Path is read from.
	Fs   afero.Fs
	Path string
	// Name is the archive filename the feed published, used to derive the
	// module's author and name when its metadata does not carry both.
	// Defaults to the base of Path.
	Name string
}

func (ar Archive) name() string {
	if ar.Name != "" {
		return ar.Name
	}
	return path.Base(ar.Path)
}

// ImportArchive imports the archive into the registry and associates it with
// the repository. If the module already exists (e.g. it is associated with
// another repository) it is reused, and its checksum must match the archive.
func (a API) ImportArchive(ctx context.Context, repoID string, ar Archive) (*model.Module, error) {
	md, err := readMetadata(ar)
	if err != nil {
		return nil, err
	}
	archiveName := ar.name()
	key, err := md.Key(archiveName)
	if err != nil {
		return nil, fmt.Errorf("deriving module key for %s: %w", archiveName, err)
	}

	locator, checksum, err := a.storeArchive(ctx, ar)
	if err != nil {
		return nil, err
	}

	module, err := a.Repo.GetModuleByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up module %s: %w", key, err)
	}
	if module == nil {
		module, err = a.Repo.CreateModule(ctx, key, append(md.Options(),
			model.WithChecksum(checksum, model.DefaultChecksumType),
			model.WithLocator(locator),
		)...)
		if err != nil {
			return nil, fmt.Errorf("creating module %s: %w", key, err)
		}
		log.Debugf("created module %s", key)
	} else {
		if module.Checksum() != "" && module.Checksum() != checksum {
			return nil, fmt.Errorf("%w: module %s has %s, archive has %s", ErrChecksumMismatch, key, module.Checksum(), checksum)
		}
		if err := a.backfill(ctx, module, checksum, locator); err != nil {
			return nil, err
		}
	}

	if err := a.Repo.AssociateModule(ctx, repoID, module.ID()); err != nil {
		return nil, fmt.Errorf("associating module %s with repository %s: %w", key, repoID, err)
	}
	return module, nil
}

// Disassociate removes a module from a repository. The module itself is kept;
// garbage collection of unreferenced modules happens elsewhere.
func (a API) Disassociate(ctx context.Context, repoID string, key model.Key) error {
	if err := a.Repo.DisassociateModule(ctx, repoID, key); err != nil {
		return fmt.Errorf("disassociating module %s from repository %s: %w", key, repoID, err)
	}
	return nil
}

// ModuleKeys returns the set of module keys currently in a repository.
func (a API) ModuleKeys(ctx context.Context, repoID string) (map[model.Key]bool, error) {
	keys, err := a.Repo.ModuleKeysForRepository(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("listing modules for repository %s: %w", repoID, err)
	}
	set := make(map[model.Key]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set, nil
}

// Modules returns every module in a repository.
func (a API) Modules(ctx context.Context, repoID string) ([]*model.Module, error) {
	modules, err := a.Repo.ModulesForRepository(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("listing modules for repository %s: %w", repoID, err)
	}
	return modules, nil
}

// OpenArchive opens a module's archive from the content store, verifying it
// against the recorded checksum first.
func (a API) OpenArchive(ctx context.Context, module *model.Module) (io.ReadCloser, error) {
	if !module.Locator().Defined() {
		return nil, fmt.Errorf("module %s has no stored archive", module.Key())
	}
	ok, err := a.Content.Verify(ctx, module.Locator(), module.Checksum())
	if err != nil {
		return nil, fmt.Errorf("verifying archive of %s: %w", module.Key(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: module %s", ErrChecksumMismatch, module.Key())
	}
	return a.Content.Get(ctx, module.Locator())
}

func readMetadata(ar Archive) (*model.Metadata, error) {
	f, err := ar.Fs.Open(ar.Path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", ar.Path, err)
	}
	defer f.Close()
	md, err := archive.ReadModuleMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("reading metadata from %s: %w", ar.name(), err)
	}
	return md, nil
}

func (a API) storeArchive(ctx context.Context, ar Archive) (cid.Cid, string, error) {
	f, err := ar.Fs.Open(ar.Path)
	if err != nil {
		return cid.Undef, "", fmt.Errorf("opening archive %s: %w", ar.Path, err)
	}
	defer f.Close()
	locator, checksum, err := a.Content.Put(ctx, f)
	if err != nil {
		return cid.Undef, "", fmt.Errorf("storing archive %s: %w", ar.name(), err)
	}
	return locator, checksum, nil
}

func (a API) backfill(ctx context.Context, module *model.Module, checksum string, locator cid.Cid) error {
	changed := false
	if module.Checksum() == "" {
		if err := module.SetChecksum(checksum, model.DefaultChecksumType); err != nil {
			return err
		}
		changed = true
	}
	if !module.Locator().Defined() {
		if err := module.SetLocator(locator); err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return nil
	}
	if err := a.Repo.UpdateModule(ctx, module); err != nil {
		return fmt.Errorf("updating module %s: %w", module.Key(), err)
	}
	return nil
}
