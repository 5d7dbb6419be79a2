package modules_test

import (
	"context"
	"io"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/pmirror/pmirror/pkg/archive"
	"github.com/pmirror/pmirror/pkg/archive/archivetest"
	"github.com/pmirror/pmirror/pkg/contentstore"
	"github.com/pmirror/pmirror/pkg/registry/modules"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/registry/sqlrepo"
	"github.com/pmirror/pmirror/pkg/registry/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) (modules.API, afero.Fs) {
	fs := afero.NewMemMapFs()
	return modules.API{
		Repo:    sqlrepo.New(testutil.CreateTestDB(t)),
		Content: contentstore.New(fs, "/content"),
	}, fs
}

func TestImportArchive(t *testing.T) {
	key := model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}

	t.Run("imports and associates a new module", func(t *testing.T) {
		api, fs := newAPI(t)
		require.NoError(t, afero.WriteFile(fs, "/downloads/"+key.ArchiveName(), archivetest.ModuleArchive(t, key), 0o644))

		module, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: "/downloads/" + key.ArchiveName()})
		require.NoError(t, err)
		require.Equal(t, key, module.Key())
		require.NotEmpty(t, module.Checksum())
		require.True(t, module.Locator().Defined())

		keys, err := api.ModuleKeys(t.Context(), "repo1")
		require.NoError(t, err)
		require.Equal(t, map[model.Key]bool{key: true}, keys)

		rc, err := api.OpenArchive(t.Context(), module)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.Equal(t, archivetest.ModuleArchive(t, key), data)
	})

	t.Run("reuses a module already known to another repository", func(t *testing.T) {
		api, fs := newAPI(t)
		path := "/downloads/" + key.ArchiveName()
		require.NoError(t, afero.WriteFile(fs, path, archivetest.ModuleArchive(t, key), 0o644))

		first, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: path})
		require.NoError(t, err)
		second, err := api.ImportArchive(t.Context(), "repo2", modules.Archive{Fs: fs, Path: path})
		require.NoError(t, err)
		require.Equal(t, first.ID(), second.ID())

		for _, repoID := range []string{"repo1", "repo2"} {
			keys, err := api.ModuleKeys(t.Context(), repoID)
			require.NoError(t, err)
			require.True(t, keys[key])
		}
	})

	t.Run("rejects an archive whose checksum differs from the recorded one", func(t *testing.T) {
		api, fs := newAPI(t)
		_, err := api.Repo.CreateModule(t.Context(), key, model.WithChecksum("0123456789abcdef", "md5"))
		require.NoError(t, err)

		path := "/downloads/" + key.ArchiveName()
		require.NoError(t, afero.WriteFile(fs, path, archivetest.ModuleArchive(t, key), 0o644))

		_, err = api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: path})
		require.ErrorIs(t, err, modules.ErrChecksumMismatch)
	})

	t.Run("back-fills a missing checksum", func(t *testing.T) {
		api, fs := newAPI(t)
		_, err := api.Repo.CreateModule(t.Context(), key)
		require.NoError(t, err)

		path := "/downloads/" + key.ArchiveName()
		require.NoError(t, afero.WriteFile(fs, path, archivetest.ModuleArchive(t, key), 0o644))

		module, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: path})
		require.NoError(t, err)

		read, err := api.Repo.GetModuleByKey(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, module.Checksum(), read.Checksum())
		require.NotEmpty(t, read.Checksum())
	})

	t.Run("derives author and name from the published archive name", func(t *testing.T) {
		api, fs := newAPI(t)
		data := archivetest.WithMetadata(t, key, model.Metadata{Name: "stdlib", Version: "4.1.0"})
		// Downloads land under a temporary name unrelated to the archive.
		require.NoError(t, afero.WriteFile(fs, "/tmp/download-1234.gz", data, 0o644))

		_, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: "/tmp/download-1234.gz"})
		require.ErrorContains(t, err, "is not split")

		module, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: "/tmp/download-1234.gz", Name: key.ArchiveName()})
		require.NoError(t, err)
		require.Equal(t, key, module.Key())
	})

	t.Run("fails on an archive without metadata", func(t *testing.T) {
		api, fs := newAPI(t)
		path := "/downloads/" + key.ArchiveName()
		require.NoError(t, afero.WriteFile(fs, path, archivetest.Tarball(t, map[string][]byte{
			"puppetlabs-stdlib-4.1.0/README": []byte("no metadata"),
		}), 0o644))

		_, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: path})
		require.ErrorIs(t, err, archive.ErrMissingMetadata)
	})
}

type corruptStore struct {
	modules.ContentStore
}

func (corruptStore) Verify(context.Context, cid.Cid, string) (bool, error) {
	return false, nil
}

func TestOpenArchive(t *testing.T) {
	api, fs := newAPI(t)
	key := model.Key{Author: "a", Name: "b", Version: "1.0.0"}
	path := "/downloads/" + key.ArchiveName()
	require.NoError(t, afero.WriteFile(fs, path, archivetest.ModuleArchive(t, key), 0o644))
	module, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: path})
	require.NoError(t, err)

	api.Content = corruptStore{api.Content}
	_, err = api.OpenArchive(t.Context(), module)
	require.ErrorIs(t, err, modules.ErrChecksumMismatch)
}

func TestDisassociate(t *testing.T) {
	api, fs := newAPI(t)
	key := model.Key{Author: "a", Name: "b", Version: "1.0.0"}
	path := "/downloads/" + key.ArchiveName()
	require.NoError(t, afero.WriteFile(fs, path, archivetest.ModuleArchive(t, key), 0o644))
	_, err := api.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: path})
	require.NoError(t, err)

	require.NoError(t, api.Disassociate(t.Context(), "repo1", key))
	keys, err := api.ModuleKeys(t.Context(), "repo1")
	require.NoError(t, err)
	require.Empty(t, keys)
}
