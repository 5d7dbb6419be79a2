package depgraph_test

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/pmirror/pmirror/pkg/archive/archivetest"
	"github.com/pmirror/pmirror/pkg/contentstore"
	"github.com/pmirror/pmirror/pkg/depgraph"
	"github.com/pmirror/pmirror/pkg/registry/modules"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/registry/sqlrepo"
	"github.com/pmirror/pmirror/pkg/registry/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions(t *testing.T) {
	testCases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "2.0.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.1.0-alpha", "1.1.0", -1},
		{"1.1.0-alpha", "1.0.9", 1},
		{"1.0", "1.0.1", -1},
		{"2.0.0", "2.0.0", 0},
		{"garbage", "0.0.1", -1},
		{"abc", "abd", -1},
	}
	for _, tc := range testCases {
		t.Run(tc.a+" vs "+tc.b, func(t *testing.T) {
			require.Equal(t, tc.want, depgraph.CompareVersions(tc.a, tc.b))
			require.Equal(t, -tc.want, depgraph.CompareVersions(tc.b, tc.a))
		})
	}
}

type fixture struct {
	fs      afero.Fs
	modules modules.API
}

func newFixture(t *testing.T) *fixture {
	fs := afero.NewMemMapFs()
	return &fixture{
		fs: fs,
		modules: modules.API{
			Repo:    sqlrepo.New(testutil.CreateTestDB(t)),
			Content: contentstore.New(fs, "/content"),
		},
	}
}

func (f *fixture) add(t *testing.T, repoID string, key model.Key, deps ...model.Dependency) *model.Module {
	p := path.Join("/archives", key.ArchiveName())
	require.NoError(t, afero.WriteFile(f.fs, p, archivetest.ModuleArchive(t, key, deps...), 0o644))
	m, err := f.modules.ImportArchive(t.Context(), repoID, modules.Archive{Fs: f.fs, Path: p})
	require.NoError(t, err)
	return m
}

func TestPublish(t *testing.T) {
	stdlib1 := model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}
	stdlib2 := model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.10.0"}
	apache := model.Key{Author: "puppetlabs", Name: "apache", Version: "1.0.0"}

	t.Run("writes store, index and archives for enabled targets", func(t *testing.T) {
		f := newFixture(t)
		base := t.TempDir()
		m1 := f.add(t, "repo1", stdlib1)
		f.add(t, "repo1", stdlib2)
		f.add(t, "repo1", apache, model.Dependency{Name: "puppetlabs/stdlib", VersionRequirement: ">= 4.0.0"})

		p := depgraph.Publisher{
			Modules: f.modules,
			Targets: []depgraph.Target{
				{Protocol: "https", BaseDir: base, Enabled: true},
				{Protocol: "http", BaseDir: base, Enabled: false},
			},
		}
		require.NoError(t, p.Publish(t.Context(), "repo1"))

		store, err := depgraph.Open(t.Context(), depgraph.StorePath(base, "https", "repo1"))
		require.NoError(t, err)
		defer store.Close()

		keys, err := store.Keys(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"puppetlabs/apache", "puppetlabs/stdlib"}, keys)

		records, ok, err := store.Get(t.Context(), "puppetlabs/stdlib")
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, records, 2)
		require.Equal(t, "4.10.0", records[0].Version)
		require.Equal(t, "4.1.0", records[1].Version)
		require.Equal(t, "/pulp/puppet/repo1/p/puppetlabs/puppetlabs-stdlib-4.1.0.tar.gz", records[1].File)
		require.Equal(t, m1.Checksum(), records[1].FileMD5)
		require.Empty(t, records[1].Dependencies)

		records, ok, err = store.Get(t.Context(), "puppetlabs/apache")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, [][2]string{{"puppetlabs/stdlib", ">= 4.0.0"}}, records[0].Dependencies)

		_, ok, err = store.Get(t.Context(), "puppetlabs/missing")
		require.NoError(t, err)
		require.False(t, ok)

		data, err := os.ReadFile(filepath.Join(depgraph.RepoDir(base, "https", "repo1"), depgraph.IndexFilename))
		require.NoError(t, err)
		var index []depgraph.IndexEntry
		require.NoError(t, json.Unmarshal(data, &index))
		require.Equal(t, []depgraph.IndexEntry{
			{Name: "apache", Author: "puppetlabs", Version: "1.0.0", TagList: []string{"test"}},
			{Name: "stdlib", Author: "puppetlabs", Version: "4.1.0", TagList: []string{"test"}},
			{Name: "stdlib", Author: "puppetlabs", Version: "4.10.0", TagList: []string{"test"}},
		}, index)

		archive, err := os.ReadFile(filepath.Join(depgraph.RepoDir(base, "https", "repo1"), depgraph.ArchivePath(stdlib1)))
		require.NoError(t, err)
		require.Equal(t, archivetest.ModuleArchive(t, stdlib1), archive)

		_, err = depgraph.Open(t.Context(), depgraph.StorePath(base, "http", "repo1"))
		require.ErrorIs(t, err, depgraph.ErrNotPublished)
	})

	t.Run("replaces the previous publish wholesale", func(t *testing.T) {
		f := newFixture(t)
		base := t.TempDir()
		f.add(t, "repo1", stdlib1)
		f.add(t, "repo1", apache)
		p := depgraph.Publisher{Modules: f.modules, Targets: []depgraph.Target{{Protocol: "https", BaseDir: base, Enabled: true}}}
		require.NoError(t, p.Publish(t.Context(), "repo1"))

		require.NoError(t, f.modules.Disassociate(t.Context(), "repo1", apache))
		require.NoError(t, p.Publish(t.Context(), "repo1"))

		store, err := depgraph.Open(t.Context(), depgraph.StorePath(base, "https", "repo1"))
		require.NoError(t, err)
		defer store.Close()
		keys, err := store.Keys(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"puppetlabs/stdlib"}, keys)

		_, err = os.Stat(filepath.Join(depgraph.RepoDir(base, "https", "repo1"), depgraph.ArchivePath(apache)))
		require.ErrorIs(t, err, os.ErrNotExist)

		entries, err := os.ReadDir(depgraph.RepoDir(base, "https", "repo1"))
		require.NoError(t, err)
		for _, e := range entries {
			require.NotContains(t, e.Name(), ".tmp-", "temporary files must not be left behind")
		}
	})

	t.Run("unpublish removes every target", func(t *testing.T) {
		f := newFixture(t)
		base := t.TempDir()
		f.add(t, "repo1", stdlib1)
		p := depgraph.Publisher{Modules: f.modules, Targets: []depgraph.Target{
			{Protocol: "https", BaseDir: base, Enabled: true},
			{Protocol: "http", BaseDir: base, Enabled: true},
		}}
		require.NoError(t, p.Publish(t.Context(), "repo1"))
		require.NoError(t, p.Unpublish("repo1"))

		for _, protocol := range []string{"http", "https"} {
			_, err := depgraph.Open(t.Context(), depgraph.StorePath(base, protocol, "repo1"))
			require.ErrorIs(t, err, depgraph.ErrNotPublished)
		}
		require.NoError(t, p.Unpublish("repo1"), "unpublishing twice is fine")
	})
}

func TestOpenCorruptStore(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, depgraph.StoreFilename)
	require.NoError(t, os.WriteFile(p, []byte("this is not a database"), 0o644))

	_, err := depgraph.Open(t.Context(), p)
	require.Error(t, err)
	require.NotErrorIs(t, err, depgraph.ErrNotPublished)
}

func TestArchivePath(t *testing.T) {
	require.Equal(t, "p/puppetlabs/puppetlabs-stdlib-4.1.0.tar.gz",
		depgraph.ArchivePath(model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}))
	require.Equal(t, "é/émile/émile-motd-1.0.0.tar.gz",
		depgraph.ArchivePath(model.Key{Author: "émile", Name: "motd", Version: "1.0.0"}))
}
